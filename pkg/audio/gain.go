package audio

// ApplyGain returns a copy of buf with every sample scaled by gain.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
// A gain of 1.0 returns the input unchanged (zero allocation).
func ApplyGain(buf Buffer, gain float64) Buffer {
	if gain == 1.0 || len(buf.Data) < 2 {
		return buf
	}

	out := make([]byte, len(buf.Data)&^1)
	for i := 0; i+1 < len(buf.Data); i += 2 {
		sample := int32(int16(buf.Data[i]) | int16(buf.Data[i+1])<<8)
		scaled := int32(float64(sample) * gain)

		// Clamp to int16 range.
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}

		out[i] = byte(scaled)
		out[i+1] = byte(scaled >> 8)
	}
	return Buffer{Data: out, SampleRate: buf.SampleRate, Channels: buf.Channels}
}
