package audio

// LevelMax is the display ceiling for level samples. It exists purely for
// meter stability; threshold comparisons always use the unclipped peak.
const LevelMax = 1.0

// Peak returns the maximum absolute sample value of an interleaved block,
// across all channels. Unclipped.
func Peak(samples []float32) float64 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak)
}

// DisplayLevel clips a peak value to [0, LevelMax] for delivery on the
// level queue.
func DisplayLevel(peak float64) float64 {
	if peak > LevelMax {
		return LevelMax
	}
	if peak < 0 {
		return 0
	}
	return peak
}
