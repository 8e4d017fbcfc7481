package audio

// Downmix сводит интерливные каналы в моно усреднением
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	n := len(samples) / channels
	out := make([]float32, n)
	inv := 1 / float32(channels)
	for i := 0; i < n; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += samples[base+c]
		}
		out[i] = sum * inv
	}
	return out
}

// Resample линейная интерполяция from -> to.
// Для речи до 16kHz этого достаточно: Whisper сам режет всё выше 8kHz.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// SamplesToInt16 конвертирует [-1,1] в PCM16 с клиппингом
func SamplesToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}
