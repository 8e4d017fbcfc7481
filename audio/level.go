package audio

import "math"

// RMS среднеквадратичный уровень сигнала
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// Peak максимальная абсолютная амплитуда
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	return peak
}

// HasSignal true, если в блоке есть что-то громче порогов.
// Используется как грубый фильтр тишины перед распознаванием.
func HasSignal(samples []float32, rmsThreshold, peakThreshold float32) bool {
	if len(samples) == 0 {
		return false
	}
	return RMS(samples) >= rmsThreshold || Peak(samples) >= peakThreshold
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
