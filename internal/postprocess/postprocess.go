// Package postprocess decodes a detection network's final feature map into
// boxes: per-cell anchor decoding with sigmoid/exp transforms and softmax
// class probabilities, followed by greedy per-class non-maximum suppression.
package postprocess

import (
	"math"
	"sort"

	"github.com/samcharles93/tileflow/internal/fixed"
)

// Detection is one decoded box in input-image pixel coordinates, corner
// format.
type Detection struct {
	X, Y, W, H float64
	Confidence float64
	Class      int
}

// Config parameterizes decoding of one grid output.
type Config struct {
	GridH, GridW int
	Classes      int
	// Anchors holds (width, height) pairs in grid-cell units.
	Anchors   []float64
	InputSize int
	// ConfThreshold drops detections below this objectness x class score.
	ConfThreshold float64
	// NMSThreshold is the IoU above which a lower-scoring box is suppressed.
	NMSThreshold float64
}

func (c Config) numAnchors() int { return len(c.Anchors) / 2 }

// Decode converts the raw channel-major feature map into thresholded
// detections. The map layout is (anchor x (5+classes)) x gridH x gridW:
// for each anchor, channels tx, ty, tw, th, objectness, then one channel
// per class.
func Decode(output []fixed.Word, cfg Config) []Detection {
	stride := cfg.GridH * cfg.GridW
	span := 5 + cfg.Classes

	var dets []Detection
	logits := make([]float64, cfg.Classes)
	for gh := 0; gh < cfg.GridH; gh++ {
		for gw := 0; gw < cfg.GridW; gw++ {
			for a := 0; a < cfg.numAnchors(); a++ {
				base := a*span*stride + gh*cfg.GridW + gw
				at := func(c int) float64 { return output[base+c*stride].Float() }

				obj := sigmoid(at(4))
				if obj < cfg.ConfThreshold {
					continue
				}

				bestClass, conf := 0, obj
				if cfg.Classes > 0 {
					for c := 0; c < cfg.Classes; c++ {
						logits[c] = at(5 + c)
					}
					var bestProb float64
					bestClass, bestProb = softmax(logits)
					conf = obj * bestProb
				}
				if conf < cfg.ConfThreshold {
					continue
				}

				tw := clamp(at(2), -10, 10)
				th := clamp(at(3), -10, 10)

				size := float64(cfg.InputSize)
				boxX := (sigmoid(at(0)) + float64(gw)) / float64(cfg.GridW) * size
				boxY := (sigmoid(at(1)) + float64(gh)) / float64(cfg.GridH) * size
				boxW := math.Exp(tw) * cfg.Anchors[a*2] / float64(cfg.GridW) * size
				boxH := math.Exp(th) * cfg.Anchors[a*2+1] / float64(cfg.GridH) * size
				if boxW <= 0 || boxH <= 0 || boxW > 2*size || boxH > 2*size {
					continue
				}

				dets = append(dets, Detection{
					X:          boxX - boxW/2,
					Y:          boxY - boxH/2,
					W:          boxW,
					H:          boxH,
					Confidence: conf,
					Class:      bestClass,
				})
			}
		}
	}
	return dets
}

// NMS sorts detections by descending confidence and greedily keeps each box
// that does not overlap an already-kept box of the same class beyond the
// threshold. Boxes of different classes never suppress each other.
func NMS(dets []Detection, threshold float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if d.Class == k.Class && IoU(d, k) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// Run decodes and suppresses in one call.
func Run(output []fixed.Word, cfg Config) []Detection {
	return NMS(Decode(output, cfg), cfg.NMSThreshold)
}

// IoU returns the intersection-over-union of two corner-format boxes.
func IoU(a, b Detection) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	return inter / (a.W*a.H + b.W*b.H - inter + 1e-6)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmax exponentiates the logits in place (shifted by the max for
// stability) and returns the index and normalized probability of the
// largest entry.
func softmax(logits []float64) (int, float64) {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	best, bestVal := 0, 0.0
	for i, v := range logits {
		e := math.Exp(v - maxVal)
		logits[i] = e
		sum += e
		if e > bestVal {
			best, bestVal = i, e
		}
	}
	return best, bestVal / sum
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
