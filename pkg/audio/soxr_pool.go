package audio

import (
	"errors"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

var soxrPool keyedPool[soxrKey, *resampler.SimpleResamplerFloat32]

type soxrStreamResampler struct {
	key soxrKey
	r   *resampler.SimpleResamplerFloat32
}

func newSoxrStreamResampler(inRate, outRate int) (*soxrStreamResampler, error) {
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	r, err := soxrPool.get(key, func() (*resampler.SimpleResamplerFloat32, error) {
		return resampler.NewEngineFloat32(float64(inRate), float64(outRate), key.quality)
	})
	if err != nil {
		return nil, err
	}
	return &soxrStreamResampler{key: key, r: r}, nil
}

func (s *soxrStreamResampler) Process(input []float32) ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is closed")
	}
	return s.r.Process(input)
}

func (s *soxrStreamResampler) Flush() ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is closed")
	}
	return s.r.Flush()
}

func (s *soxrStreamResampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	s.r.Reset()
	soxrPool.put(s.key, s.r)
	s.r = nil
}
