package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/tileflow/internal/driver"
	"github.com/samcharles93/tileflow/internal/network"
	"github.com/samcharles93/tileflow/internal/postprocess"
)

// Runner owns one loaded model and one engine, and serializes inference
// requests onto them. The engine processes a single layer stream, so
// concurrent requests queue on the mutex.
type Runner struct {
	mu    sync.Mutex
	model *driver.Model
	drv   *driver.Driver
}

func NewRunner(model *driver.Model, drv *driver.Driver) *Runner {
	return &Runner{model: model, drv: drv}
}

// Network returns the loaded network description.
func (r *Runner) Network() *network.Network { return r.model.Net }

// EngineState reports the engine's run state as a string.
func (r *Runner) EngineState() string { return r.drv.Engine().State().String() }

// Infer quantizes the input, runs the full network, and decodes detections
// when the network has a detection head. For plain feature extractors the
// detections are nil and the raw output is returned dequantized.
func (r *Runner) Infer(ctx context.Context, input []float64) ([]postprocess.Detection, []float64, error) {
	ch, h, w := r.model.Net.InputShape()
	if len(input) != ch*h*w {
		return nil, nil, fmt.Errorf("input has %d values, network expects %dx%dx%d", len(input), ch, h, w)
	}

	vals := make([]float32, len(input))
	for i, v := range input {
		vals[i] = float32(v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.model.SetInputFloats(vals); err != nil {
		return nil, nil, err
	}
	if err := r.drv.RunNetwork(ctx, r.model.Net, r.model.Bank, r.model.Layout); err != nil {
		return nil, nil, err
	}

	out := r.model.Output()
	outVals := r.model.OutputFloats()
	raw := make([]float64, len(outVals))
	for i, v := range outVals {
		raw[i] = float64(v)
	}

	n := r.model.Net
	if n.NumClasses == 0 {
		return nil, raw, nil
	}

	_, gh, gw := n.OutputShape()
	dets := postprocess.Run(out, postprocess.Config{
		GridH:         gh,
		GridW:         gw,
		Classes:       n.NumClasses,
		Anchors:       n.Anchors,
		InputSize:     inputSize(n),
		ConfThreshold: 0.25,
		NMSThreshold:  0.45,
	})
	return dets, raw, nil
}

func inputSize(n *network.Network) int {
	_, h, _ := n.InputShape()
	return h
}

// InferTimed wraps Infer with wall-clock measurement for job records.
func (r *Runner) InferTimed(ctx context.Context, input []float64) ([]postprocess.Detection, []float64, time.Duration, error) {
	start := time.Now()
	dets, raw, err := r.Infer(ctx, input)
	return dets, raw, time.Since(start), err
}
