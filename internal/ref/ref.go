// Package ref holds the floating-point software rendition of the network
// layers. It exists as the correctness oracle for the fixed-point engine:
// tests run both paths over the same data and bound the quantization error.
// The run command can also execute it directly via --reference.
package ref

import "math"

// Conv2D computes a direct (non-tiled) 2D convolution with zero padding.
// Input is (in_ch, in_h, in_w) channel-major, weights (out_ch, in_ch, k, k),
// both flattened row-major. Returns the (out_ch, out_h, out_w) output.
func Conv2D(in, weights []float32, inCh, inH, inW, outCh, kernel, stride, pad int) []float32 {
	outH := (inH+2*pad-kernel)/stride + 1
	outW := (inW+2*pad-kernel)/stride + 1
	out := make([]float32, outCh*outH*outW)

	for oc := 0; oc < outCh; oc++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				var sum float32
				for ic := 0; ic < inCh; ic++ {
					for kh := 0; kh < kernel; kh++ {
						for kw := 0; kw < kernel; kw++ {
							ih := oh*stride + kh - pad
							iw := ow*stride + kw - pad
							if ih < 0 || ih >= inH || iw < 0 || iw >= inW {
								continue
							}
							wIdx := oc*inCh*kernel*kernel + ic*kernel*kernel + kh*kernel + kw
							sum += in[ic*inH*inW+ih*inW+iw] * weights[wIdx]
						}
					}
				}
				out[oc*outH*outW+oh*outW+ow] = sum
			}
		}
	}
	return out
}

// BatchNormLeaky applies the folded batch-norm affine transform followed by
// LeakyReLU in place. scale and shift are per-channel.
//
// The slope defaults to the canonical 0.1; pass 0.125 to mirror the
// engine's shift-by-3 hardware approximation.
func BatchNormLeaky(data, scale, shift []float32, channels, h, w int, slope float32) {
	spatial := h * w
	for c := 0; c < channels; c++ {
		for i := 0; i < spatial; i++ {
			idx := c*spatial + i
			v := data[idx]*scale[c] + shift[c]
			if v < 0 {
				v *= slope
			}
			data[idx] = v
		}
	}
}

// FoldBatchNorm converts learned batch-norm parameters into the per-channel
// (scale, shift) pairs the engine consumes:
// scale = gamma/sqrt(var+eps), shift = beta - mean*scale.
func FoldBatchNorm(gamma, beta, mean, variance []float32, eps float32) (scale, shift []float32) {
	scale = make([]float32, len(gamma))
	shift = make([]float32, len(gamma))
	for c := range gamma {
		s := gamma[c] / float32(math.Sqrt(float64(variance[c]+eps)))
		scale[c] = s
		shift[c] = beta[c] - mean[c]*s
	}
	return scale, shift
}

// MaxPool2x2 runs 2x2/stride-2 max pooling, dropping odd trailing rows and
// columns.
func MaxPool2x2(in []float32, channels, inH, inW int) []float32 {
	outH := inH / 2
	outW := inW / 2
	out := make([]float32, channels*outH*outW)

	for c := 0; c < channels; c++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				base := c*inH*inW + (oh*2)*inW + ow*2
				m := in[base]
				for _, v := range []float32{in[base+1], in[base+inW], in[base+inW+1]} {
					if v > m {
						m = v
					}
				}
				out[c*outH*outW+oh*outW+ow] = m
			}
		}
	}
	return out
}

// GlobalAvgPool reduces each channel to the mean of its spatial elements.
func GlobalAvgPool(in []float32, channels, h, w int) []float32 {
	spatial := h * w
	out := make([]float32, channels)
	for c := 0; c < channels; c++ {
		var sum float64
		for i := 0; i < spatial; i++ {
			sum += float64(in[c*spatial+i])
		}
		out[c] = float32(sum / float64(spatial))
	}
	return out
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	if x > 20 {
		return 1
	}
	if x < -20 {
		return 0
	}
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// LeakyReLU is the canonical 0.1-slope variant used by the float path.
func LeakyReLU(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0.1 * x
}
