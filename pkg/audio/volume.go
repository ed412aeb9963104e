package audio

import (
	"encoding/binary"
	"math"
)

// Volumes returns one normalized RMS level per sliceMs of mono PCM16, for
// driving a speaking indicator on the client.
func Volumes(pcm []byte, sampleRate int, sliceMs int) []float64 {
	if len(pcm) < 2 || sampleRate <= 0 {
		return nil
	}
	frames := len(pcm) / 2
	chunk := sampleRate * sliceMs / 1000
	if chunk <= 0 {
		chunk = frames
	}

	volumes := make([]float64, 0, (frames+chunk-1)/chunk)
	peak := 0.0
	for start := 0; start < frames; start += chunk {
		end := min(start+chunk, frames)
		v := rms(pcm, start, end)
		peak = math.Max(peak, v)
		volumes = append(volumes, v)
	}
	for i := range volumes {
		if peak == 0 {
			volumes[i] = 0
			continue
		}
		volumes[i] /= peak
	}
	return volumes
}

func rms(pcm []byte, start, end int) float64 {
	if start >= end {
		return 0
	}
	sum := 0.0
	for i := start; i < end; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(end-start))
}

// DurationMs is the playback length of mono PCM16 at sampleRate.
func DurationMs(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(len(pcm)/2) * 1000 / float64(sampleRate)))
}
