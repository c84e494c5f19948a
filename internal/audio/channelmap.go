package audio

// ResolveChannelMap turns a user channel selection into an ordered list of
// zero-based source channel indices: one entry for mono, two for stereo.
// Requested indices beyond the device's input channel count are clamped to
// the highest valid index so a device hot-swap never produces an out of
// range map.
func ResolveChannelMap(maxInputChannels int, first, second int, stereo bool) []int {
	if !stereo {
		return []int{clampChannel(first, maxInputChannels)}
	}
	return []int{
		clampChannel(first, maxInputChannels),
		clampChannel(second, maxInputChannels),
	}
}

func clampChannel(ch, maxInputChannels int) int {
	if ch < 0 {
		return 0
	}
	if maxInputChannels > 0 && ch >= maxInputChannels {
		return maxInputChannels - 1
	}
	return ch
}
