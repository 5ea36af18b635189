package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFrame returns a w x h frame filled with one opaque colour.
func newFrame(w, h int, r, g, b uint8) *types.Frame {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 255
	}
	return &types.Frame{Pix: pix, Width: w, Height: h}
}

// paintBlock fills the square of the given half-width centred on (cx, cy).
func paintBlock(f *types.Frame, cx, cy, half int, r, g, b uint8) {
	for y := cy - half; y <= cy+half; y++ {
		for x := cx - half; x <= cx+half; x++ {
			if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
				continue
			}
			i := (y*f.Width + x) * 4
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
		}
	}
}

func irState(sensitivity float64) types.SessionState {
	cfg := types.DefaultSessionConfig()
	cfg.Sensitivity = sensitivity
	return types.SessionState{Status: types.StatusDetecting, Config: cfg}
}

func TestIsIRCandidate(t *testing.T) {
	tests := []struct {
		name        string
		r, g, b     uint8
		sensitivity float64
		want        bool
	}{
		{"Pure IR red", 255, 0, 0, 0.9, true},
		{"Red with too much green", 255, 120, 0, 0.9, false},
		{"White above bar", 255, 255, 255, 0.9, true},
		{"Mid grey below bar", 120, 120, 120, 0.5, false},
		{"Mid grey above lowered bar", 120, 120, 120, 0.4, true},
		{"Black", 0, 0, 0, 0.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsIRCandidate(tt.r, tt.g, tt.b, tt.sensitivity))
		})
	}
}

func TestClusterBrightRejectsHotPixel(t *testing.T) {
	f := newFrame(21, 21, 0, 0, 0)
	paintBlock(f, 10, 10, 0, 255, 255, 255)

	assert.False(t, ClusterBright(f, 10, 10), "a lone hot pixel must not form a cluster")
}

func TestClusterBrightThreshold(t *testing.T) {
	// 25 of 49 bright qualifies, 24 does not.
	f := newFrame(21, 21, 0, 0, 0)
	paintBlock(f, 10, 10, 3, 255, 255, 255)
	assert.True(t, ClusterBright(f, 10, 10))

	g := newFrame(21, 21, 0, 0, 0)
	// 4 columns x 6 rows = 24 bright pixels inside the window centred on (10,10)
	for y := 7; y <= 12; y++ {
		for x := 7; x <= 10; x++ {
			i := (y*g.Width + x) * 4
			g.Pix[i], g.Pix[i+1], g.Pix[i+2] = 255, 255, 255
		}
	}
	assert.Equal(t, 24, countBright(g, 10, 10, clusterHalfWidth))
	assert.False(t, ClusterBright(g, 10, 10))
}

func TestWindowSkipsOutOfBounds(t *testing.T) {
	f := newFrame(5, 5, 255, 255, 255)

	// Only the 4x4 in-frame corner of the 7x7 window is read; no wrap onto other rows.
	assert.Equal(t, 16, countBright(f, 0, 0, clusterHalfWidth))
	assert.False(t, ClusterBright(f, 0, 0))
	assert.InDelta(t, 25.0/121.0, SpotSize(f, 2, 2), 1e-12)
}

func TestAllDarkFrame(t *testing.T) {
	p := NewPipeline(nil, nil)
	res, err := p.Analyze(context.Background(), newFrame(64, 48, 0, 0, 0), irState(0.5))
	require.NoError(t, err)

	assert.NotNil(t, res.Spots)
	assert.Empty(t, res.Spots)
	assert.Zero(t, res.Confidence)
	assert.False(t, res.Alerting())
}

func TestSaturatedIRCluster(t *testing.T) {
	f := newFrame(41, 41, 0, 0, 0)
	paintBlock(f, 20, 20, 3, 255, 0, 0)

	p := NewPipeline(nil, nil)
	res, err := p.Analyze(context.Background(), f, irState(0.5))
	require.NoError(t, err)

	// Every block pixel whose 7x7 window overlaps the block by more than 24 pixels is an anchor.
	require.Len(t, res.Spots, 29)

	var center *types.BrightSpot
	for i := range res.Spots {
		if res.Spots[i].X == 20.0/41 && res.Spots[i].Y == 20.0/41 {
			center = &res.Spots[i]
		}
	}
	require.NotNil(t, center, "center pixel must be recorded as an anchor")
	assert.InDelta(t, 85.0/255.0, center.Intensity, 1e-12)
	assert.InDelta(t, 49.0/121.0, center.Size, 1e-12)
	assert.Equal(t, types.PatternUnknown, center.Pattern)

	// 25 anchors see the whole block in their 11x11 window, 4 edge anchors see 42 pixels.
	meanSize := (25*49.0 + 4*42.0) / (29 * 121.0)
	want := (85.0/255.0)*0.4 + meanSize*0.3 + 0.3
	assert.InDelta(t, want, res.Confidence, 1e-9)
	assert.Greater(t, res.Confidence, 0.0)
	assert.Equal(t, want > 0.7, res.Alerting())
	assert.False(t, res.Alerting())
}

func TestWhiteFrameAlerts(t *testing.T) {
	p := NewPipeline(nil, nil)
	res, err := p.Analyze(context.Background(), newFrame(16, 16, 255, 255, 255), irState(0.5))
	require.NoError(t, err)

	// Pixels near the corners see too little of their window to form a cluster.
	assert.Len(t, res.Spots, 236)
	assert.Greater(t, res.Confidence, types.AlertThreshold)
	assert.True(t, res.Alerting())
}

func TestIRDeterminism(t *testing.T) {
	f := randomFrame(rand.New(rand.NewSource(7)), 48, 32)
	p := NewPipeline(nil, nil)

	a, err := p.Analyze(context.Background(), f, irState(0.3))
	require.NoError(t, err)
	b, err := p.Analyze(context.Background(), f, irState(0.3))
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("IR analysis not deterministic (-first +second):\n%s", diff)
	}
}

func TestSpotsStayNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := NewPipeline(nil, nil)

	for i := 0; i < 20; i++ {
		f := randomFrame(rng, 8+rng.Intn(40), 8+rng.Intn(40))
		state := irState(types.ClampSensitivity(rng.Float64()))
		state.Previous = randomFrame(rng, f.Width, f.Height)

		for _, mode := range types.Modes {
			state.Config.Mode = mode
			state.Config.MotionThreshold = rng.Float64() * 0.2
			res, err := p.Analyze(context.Background(), f, state)
			require.NoError(t, err)
			for _, s := range res.Spots {
				assert.True(t, s.X >= 0 && s.X <= 1, "x out of range: %v", s.X)
				assert.True(t, s.Y >= 0 && s.Y <= 1, "y out of range: %v", s.Y)
				assert.True(t, s.Size >= 0 && s.Size <= 1, "size out of range: %v", s.Size)
				assert.True(t, s.Intensity >= 0 && s.Intensity <= 1, "intensity out of range: %v", s.Intensity)
			}
			assert.True(t, res.Confidence >= 0 && res.Confidence <= 1)
		}
	}
}

// randomFrame mixes dark noise with a few bright blobs so every detector has work to do.
func randomFrame(rng *rand.Rand, w, h int) *types.Frame {
	f := newFrame(w, h, 0, 0, 0)
	for i := 0; i < len(f.Pix); i += 4 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = uint8(rng.Intn(90)), uint8(rng.Intn(90)), uint8(rng.Intn(90))
	}
	for n := 0; n < 3; n++ {
		paintBlock(f, rng.Intn(w), rng.Intn(h), 2+rng.Intn(4), 230+uint8(rng.Intn(25)), uint8(rng.Intn(255)), uint8(rng.Intn(90)))
	}
	return f
}

func TestAnalyzeDecodeError(t *testing.T) {
	p := NewPipeline(nil, nil)
	bad := &types.Frame{Pix: make([]byte, 10), Width: 4, Height: 4}

	res, err := p.Analyze(context.Background(), bad, irState(0.5))
	var de *types.DecodeError
	require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
	assert.NotNil(t, res.Spots)
	assert.Empty(t, res.Spots)
	assert.Zero(t, res.Confidence)
}

func TestAnalyzeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(nil, nil)
	_, err := p.Analyze(ctx, newFrame(8, 8, 255, 255, 255), irState(0.5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPatternMode(t *testing.T) {
	f := newFrame(32, 32, 0, 0, 0)
	paintBlock(f, 16, 16, 4, 255, 255, 255)

	state := irState(0.5)
	state.Config.Mode = types.ModePattern
	state.Config.PatternThreshold = 0.6

	t.Run("Stub classifier finds nothing", func(t *testing.T) {
		res, err := NewPipeline(nil, nil).Analyze(context.Background(), f, state)
		require.NoError(t, err)
		assert.Empty(t, res.Spots)
		assert.Zero(t, res.Confidence)
	})

	t.Run("Recognised label above threshold is kept", func(t *testing.T) {
		lens := ClassifierFunc(func(*types.Frame, int, int) (types.Pattern, float64) {
			return types.PatternLens, 0.8
		})
		res, err := NewPipeline(lens, nil).Analyze(context.Background(), f, state)
		require.NoError(t, err)
		require.NotEmpty(t, res.Spots)
		for _, s := range res.Spots {
			assert.Equal(t, types.PatternLens, s.Pattern)
		}
	})

	t.Run("Recognised label below threshold is dropped", func(t *testing.T) {
		weak := ClassifierFunc(func(*types.Frame, int, int) (types.Pattern, float64) {
			return types.PatternLEDArray, 0.5
		})
		res, err := NewPipeline(weak, nil).Analyze(context.Background(), f, state)
		require.NoError(t, err)
		assert.Empty(t, res.Spots)
	})
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		spots []types.BrightSpot
		want  float64
	}{
		{"Empty", nil, 0},
		{"Single perfect spot", []types.BrightSpot{{Intensity: 1, Size: 1}}, 1.0},
		{"Mean not sum", []types.BrightSpot{{Intensity: 1, Size: 1}, {Intensity: 0, Size: 0}}, 0.65},
		{"Floor only", []types.BrightSpot{{}, {}, {}}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.spots), 1e-12)
		})
	}
	assert.False(t, ShouldAlert(0.7), "threshold is strict")
	assert.True(t, ShouldAlert(0.7000001))
}

// fixedDetector reports the same spots for every frame.
type fixedDetector struct {
	spots []types.BrightSpot
}

func (d fixedDetector) Detect(context.Context, *types.Frame, types.SessionState) ([]types.BrightSpot, error) {
	return d.spots, nil
}

func TestSetDetectorReplacesMode(t *testing.T) {
	p := NewPipeline(nil, nil)
	spot := types.BrightSpot{X: 0.25, Y: 0.75, Intensity: 1, Size: 1, Pattern: types.PatternLens}
	p.SetDetector(types.ModePattern, fixedDetector{spots: []types.BrightSpot{spot}})

	dark := newFrame(16, 16, 0, 0, 0)
	state := irState(0.5)
	state.Config.Mode = types.ModePattern

	res, err := p.Analyze(context.Background(), dark, state)
	require.NoError(t, err)
	require.Len(t, res.Spots, 1)
	assert.Equal(t, spot, res.Spots[0])
	assert.Equal(t, Score(res.Spots), res.Confidence)

	// Other modes keep their stock detector
	state.Config.Mode = types.ModeIR
	res, err = p.Analyze(context.Background(), dark, state)
	require.NoError(t, err)
	assert.Empty(t, res.Spots)
}
