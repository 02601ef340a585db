package monitor

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser turns PCM audio into a 0-255 frequency-domain energy figure.
//
// It keeps the most recent FFTSize mono samples, applies a Blackman
// window, smooths bin magnitudes over time and maps them linearly from
// the [MinDecibels, MaxDecibels] range onto bytes. Energy is the mean of
// those bytes over all FFTSize/2 bins.
type Analyser struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	frame    []float64
	smoothed []float64
	coeffs   []complex128
	bytes    []uint8
}

// NewAnalyser creates an analyser. size must be a power of two.
func NewAnalyser(size int, smoothing, minDB, maxDB float64) *Analyser {
	a := &Analyser{
		size:      size,
		smoothing: smoothing,
		minDB:     minDB,
		maxDB:     maxDB,
		fft:       fourier.NewFFT(size),
		window:    blackman(size),
		ring:      make([]float64, size),
		frame:     make([]float64, size),
		smoothed:  make([]float64, size/2),
		bytes:     make([]uint8, size/2),
	}
	return a
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// Push appends mono samples to the time-domain buffer.
func (a *Analyser) Push(samples []int16) {
	for _, s := range samples {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % a.size
	}
}

// Energy computes the byte spectrum of the current buffer and returns
// its average.
func (a *Analyser) Energy() float64 {
	spectrum := a.ByteFrequencyData()
	var sum int
	for _, b := range spectrum {
		sum += int(b)
	}
	return float64(sum) / float64(len(spectrum))
}

// ByteFrequencyData computes and returns the smoothed byte spectrum.
// The returned slice is reused by the next call.
func (a *Analyser) ByteFrequencyData() []uint8 {
	for i := 0; i < a.size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		c := a.coeffs[k]
		magnitude := math.Hypot(real(c), imag(c)) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := scale * (db - a.minDB)
		switch {
		case v <= 0 || math.IsNaN(v):
			a.bytes[k] = 0
		case v >= 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = uint8(v)
		}
	}
	return a.bytes
}

// Reset clears the sample buffer and smoothing state.
func (a *Analyser) Reset() {
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}
