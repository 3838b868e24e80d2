package postprocess

import (
	"math"
	"testing"

	"github.com/samcharles93/tileflow/internal/fixed"
)

func testConfig() Config {
	return Config{
		GridH: 2, GridW: 2,
		Classes:       2,
		Anchors:       []float64{1.0, 1.0},
		InputSize:     32,
		ConfThreshold: 0.3,
		NMSThreshold:  0.45,
	}
}

// featureMap builds a channel-major map for one anchor with all channels at
// a strongly negative raw value, so every cell decodes as background unless
// a test raises it.
func featureMap(cfg Config) []fixed.Word {
	span := 5 + cfg.Classes
	out := make([]fixed.Word, cfg.numAnchors()*span*cfg.GridH*cfg.GridW)
	for i := range out {
		out[i] = fixed.FromFloat(-6)
	}
	return out
}

func set(out []fixed.Word, cfg Config, gh, gw, ch int, v float64) {
	stride := cfg.GridH * cfg.GridW
	out[ch*stride+gh*cfg.GridW+gw] = fixed.FromFloat(v)
}

func TestDecodeSingleDetection(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	fm := featureMap(cfg)

	// Cell (1,0): centered box, strong objectness, class 1.
	set(fm, cfg, 1, 0, 0, 0) // tx -> sigmoid(0) = 0.5
	set(fm, cfg, 1, 0, 1, 0) // ty
	set(fm, cfg, 1, 0, 2, 0) // tw -> exp(0) = 1 anchor width
	set(fm, cfg, 1, 0, 3, 0) // th
	set(fm, cfg, 1, 0, 4, 4) // objectness
	set(fm, cfg, 1, 0, 6, 4) // class 1

	dets := Decode(fm, cfg)
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	d := dets[0]
	if d.Class != 1 {
		t.Fatalf("class %d, want 1", d.Class)
	}

	// Center (0.5+0)/2*32 = 8 in x, (0.5+1)/2*32 = 24 in y; box 16x16.
	if math.Abs(d.X-0) > 0.5 || math.Abs(d.Y-16) > 0.5 {
		t.Fatalf("corner (%v, %v)", d.X, d.Y)
	}
	if math.Abs(d.W-16) > 0.5 || math.Abs(d.H-16) > 0.5 {
		t.Fatalf("size (%v, %v)", d.W, d.H)
	}

	// Softmax over class logits (-6, 4) puts nearly all mass on class 1.
	want := sigmoid(4)
	if math.Abs(d.Confidence-want) > 0.01 {
		t.Fatalf("confidence %v, want about %v", d.Confidence, want)
	}
}

func TestDecodeClassProbabilitiesSumToOne(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	fm := featureMap(cfg)

	// Equal class logits split the probability mass: the winning class can
	// carry at most half the objectness.
	set(fm, cfg, 0, 0, 4, 6) // objectness
	set(fm, cfg, 0, 0, 5, 2) // class 0
	set(fm, cfg, 0, 0, 6, 2) // class 1

	dets := Decode(fm, cfg)
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	want := sigmoid(6) * 0.5
	if math.Abs(dets[0].Confidence-want) > 0.01 {
		t.Fatalf("confidence %v, want about %v", dets[0].Confidence, want)
	}
}

func TestDecodeThresholdsBackground(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if dets := Decode(featureMap(cfg), cfg); len(dets) != 0 {
		t.Fatalf("background map decoded %d detections", len(dets))
	}
}

func TestNMSSuppressesOverlap(t *testing.T) {
	t.Parallel()

	a := Detection{X: 0, Y: 0, W: 10, H: 10, Confidence: 0.9, Class: 0}
	b := Detection{X: 1, Y: 1, W: 10, H: 10, Confidence: 0.8, Class: 0}
	c := Detection{X: 20, Y: 20, W: 10, H: 10, Confidence: 0.7, Class: 1}

	kept := NMS([]Detection{b, c, a}, 0.45)
	if len(kept) != 2 {
		t.Fatalf("kept %d, want 2", len(kept))
	}
	if kept[0].Confidence != 0.9 || kept[1].Confidence != 0.7 {
		t.Fatalf("kept wrong boxes: %+v", kept)
	}
}

func TestNMSKeepsOverlappingDifferentClasses(t *testing.T) {
	t.Parallel()

	// Same spot, different classes: both survive regardless of overlap.
	a := Detection{X: 0, Y: 0, W: 10, H: 10, Confidence: 0.9, Class: 0}
	b := Detection{X: 1, Y: 1, W: 10, H: 10, Confidence: 0.8, Class: 1}

	kept := NMS([]Detection{b, a}, 0.45)
	if len(kept) != 2 {
		t.Fatalf("kept %d, want 2", len(kept))
	}
	if kept[0].Class != 0 || kept[1].Class != 1 {
		t.Fatalf("kept wrong boxes: %+v", kept)
	}
}

func TestIoU(t *testing.T) {
	t.Parallel()

	a := Detection{X: 0, Y: 0, W: 10, H: 10}
	if v := IoU(a, a); math.Abs(v-1) > 1e-3 {
		t.Fatalf("self IoU %v", v)
	}
	b := Detection{X: 10, Y: 10, W: 10, H: 10}
	if v := IoU(a, b); v != 0 {
		t.Fatalf("disjoint IoU %v", v)
	}
	// Half overlap in x: inter 50, union 150.
	c := Detection{X: 5, Y: 0, W: 10, H: 10}
	if v := IoU(a, c); math.Abs(v-1.0/3) > 1e-3 {
		t.Fatalf("overlap IoU %v", v)
	}
}
