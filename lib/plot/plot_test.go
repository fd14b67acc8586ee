package plot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/bode"
)

func TestSmoothKeepsPolynomials(t *testing.T) {
	y := make([]float64, 25)
	for i := range y {
		x := float64(i)
		y[i] = 0.02*x*x*x - 0.5*x*x + 3*x - 7
	}
	got, err := Smooth(y, SmoothWindow, SmoothOrder)
	require.NoError(t, err)
	assert.InDeltaSlice(t, y, got, 1e-7)
}

func TestSmoothReducesNoise(t *testing.T) {
	y := make([]float64, 41)
	for i := range y {
		y[i] = 10
		if i%2 == 0 {
			y[i] += 1
		} else {
			y[i] -= 1
		}
	}
	got, err := Smooth(y, SmoothWindow, SmoothOrder)
	require.NoError(t, err)
	for i := SmoothWindow; i < len(y)-SmoothWindow; i++ {
		assert.Less(t, math.Abs(got[i]-10), 1.0, i)
	}
}

func TestSmoothErrors(t *testing.T) {
	y := make([]float64, 10)
	testCases := map[string]struct{ window, order int }{
		"even window":    {8, 3},
		"short window":   {3, 3},
		"negative order": {5, -1},
		"longer":         {11, 3},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Smooth(y, tc.window, tc.order)
			assert.Error(t, err)
		})
	}
}

func lowpass(n int) *bode.Result {
	res := &bode.Result{}
	freqs, _ := bode.Frequencies(10, 100000, n)
	for _, f := range freqs {
		r := f / 1000
		res.Points = append(res.Points, bode.Measurement{
			Frequency: f,
			Gain:      1 / math.Sqrt(1+r*r),
			Phase:     -math.Atan(r) * 180 / math.Pi,
		})
	}
	return res
}

func isPNG(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(b), 8)
	assert.Equal(t, "\x89PNG", string(b[:4]))
}

func TestBode(t *testing.T) {
	dir := t.TempDir()
	res := lowpass(30)
	res.Points[4].Gain = math.NaN()
	res.Points[4].Phase = math.NaN()

	path := filepath.Join(dir, "bode.png")
	require.NoError(t, Bode(res, path, true))
	isPNG(t, path)

	short := filepath.Join(dir, "short.png")
	require.NoError(t, Bode(lowpass(3), short, true))
	isPNG(t, short)

	single := filepath.Join(dir, "single.png")
	require.NoError(t, Bode(lowpass(1), single, false))
	isPNG(t, single)
}

func TestBodeErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Bode(&bode.Result{}, filepath.Join(dir, "empty.png"), false))
	assert.Error(t, Bode(lowpass(5), filepath.Join(dir, "missing", "x.png"), false))
}
