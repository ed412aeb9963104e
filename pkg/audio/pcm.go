package audio

import (
	"encoding/binary"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float64ToFloat32Into converts browser float samples for the resampler.
func Float64ToFloat32Into(dst []float32, samples []float64) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample)
	}
	return dst
}

// Float32ToPCM16Into encodes float samples in [-1, 1] as little-endian PCM16.
func Float32ToPCM16Into(dst []byte, samples []float32) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(float32ToInt16(sample)))
	}
	return dst
}

// PCM16ToFloat32Into decodes little-endian PCM16. A trailing odd byte is
// ignored.
func PCM16ToFloat32Into(dst []float32, pcm []byte) []float32 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]float32, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// BytesToInt16SliceInto fills dst with little-endian int16 samples and returns it.
func BytesToInt16SliceInto(dst []int16, data []byte) []int16 {
	needed := (len(data) + 1) / 2
	if cap(dst) < needed {
		dst = make([]int16, needed)
	} else {
		dst = dst[:needed]
	}
	for i := 0; i < needed; i++ {
		low := data[i*2]
		high := byte(0)
		if i*2+1 < len(data) {
			high = data[i*2+1]
		}
		dst[i] = int16(low) | int16(high)<<8
	}
	return dst
}

// Downmix averages interleaved channels into mono PCM16.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / 2 / channels
	out := make([]byte, frames*2)
	for f := 0; f < frames; f++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			idx := (f*channels + ch) * 2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[idx:])))
		}
		binary.LittleEndian.PutUint16(out[f*2:], uint16(int16(sum/channels)))
	}
	return out
}
