package transcription

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 converts normalized samples to 16-bit little-endian PCM.
// Samples are clamped to [-1, 1], scaled by 32767 and truncated toward zero.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
