package audio

import "math"

// FilterConfig предобработка сегмента перед распознаванием
type FilterConfig struct {
	HighPassEnabled bool    `yaml:"high_pass"`
	HighPassCutoff  float32 `yaml:"high_pass_cutoff"` // Hz

	NoiseGateEnabled   bool    `yaml:"noise_gate"`
	NoiseGateThreshold float32 `yaml:"noise_gate_threshold"` // RMS окна 10мс

	NormalizeEnabled bool    `yaml:"normalize"`
	TargetPeak       float32 `yaml:"target_peak"`
	MaxGain          float32 `yaml:"max_gain"`
}

// DefaultFilterConfig фильтры, настроенные под речь с микрофона/loopback
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		HighPassEnabled:    true,
		HighPassCutoff:     80,
		NoiseGateEnabled:   true,
		NoiseGateThreshold: 0.008,
		NormalizeEnabled:   true,
		TargetPeak:         0.9,
		MaxGain:            20,
	}
}

// ApplyFilters возвращает обработанную копию семплов
func ApplyFilters(samples []float32, sampleRate int, cfg FilterConfig) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	if len(out) == 0 {
		return out
	}
	if cfg.HighPassEnabled {
		highPass(out, sampleRate, cfg.HighPassCutoff)
	}
	if cfg.NoiseGateEnabled {
		noiseGate(out, sampleRate, cfg.NoiseGateThreshold)
	}
	if cfg.NormalizeEnabled {
		normalize(out, cfg.TargetPeak, cfg.MaxGain)
	}
	return out
}

// highPass IIR первого порядка, убирает DC и гул
func highPass(s []float32, sampleRate int, cutoff float32) {
	if cutoff <= 0 || sampleRate <= 0 || len(s) < 2 {
		return
	}
	rc := 1.0 / (2.0 * math.Pi * float64(cutoff))
	dt := 1.0 / float64(sampleRate)
	alpha := float32(rc / (rc + dt))

	prevIn, prevOut := s[0], s[0]
	for i := 1; i < len(s); i++ {
		in := s[i]
		s[i] = alpha * (prevOut + in - prevIn)
		prevIn, prevOut = in, s[i]
	}
}

// noiseGate приглушает тихие окна, но не до нуля
func noiseGate(s []float32, sampleRate int, threshold float32) {
	if threshold <= 0 {
		return
	}
	win := sampleRate / 100
	if win < 1 {
		win = 1
	}
	gated := 0
	for i := 0; i < len(s); i += win {
		end := min(i+win, len(s))
		rms := RMS(s[i:end])
		if rms >= threshold {
			continue
		}
		att := max(rms/threshold, 0.1)
		for j := i; j < end; j++ {
			s[j] *= att
		}
		gated++
	}
	if gated > 0 {
		log.Tracef("Noise gate attenuated %d windows", gated)
	}
}

func normalize(s []float32, target, maxGain float32) {
	if target <= 0 {
		return
	}
	peak := Peak(s)
	if peak < 0.001 {
		return
	}
	gain := target / peak
	if maxGain > 0 && gain > maxGain {
		gain = maxGain
	}
	for i := range s {
		v := s[i] * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s[i] = v
	}
}
