package audioio

import "math"

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Resample converts mono audio between sample rates using linear interpolation.
// Good enough for speech; not for music.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}
	return result
}

// AverageVolume returns the mean absolute amplitude as a percentage of
// full scale (0-100), across all channels.
func AverageVolume(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s)) / 32768
	}
	return sum / float64(len(samples)) * 100
}

// RMS returns the root mean square of samples normalized to 0.0-1.0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
