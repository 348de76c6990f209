package audio

import "math"

// Resample converts mono float32 samples between sample rates using linear
// interpolation. The output holds round(len(input) * toRate / fromRate)
// samples, so the duration is kept within one output sample period.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if len(input) == 0 || fromRate <= 0 || toRate <= 0 {
		return nil
	}

	if fromRate == toRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	outLen := int(math.Round(float64(len(input)) * float64(toRate) / float64(fromRate)))
	if outLen == 0 {
		return nil
	}

	output := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)
	last := len(input) - 1

	for i := range output {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)

		if srcIdx >= last {
			output[i] = input[last]
			continue
		}

		frac := float32(srcPos - float64(srcIdx))
		s0 := input[srcIdx]
		s1 := input[srcIdx+1]
		output[i] = s0 + frac*(s1-s0)
	}

	return output
}

// PCM16ToFloat32 converts 16-bit little-endian PCM to float32 in [-1, 1].
func PCM16ToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// floatToInt16 clips and scales a float sample to the int16 range.
func floatToInt16(s float32) int16 {
	v := float64(s) * 32767.0
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
