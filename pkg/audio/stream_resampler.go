package audio

// StreamResampler converts microphone audio to PCM16 at the recognizer
// rate, keeping soxr state across chunks. Equal rates skip resampling.
type StreamResampler struct {
	inRate    int
	outRate   int
	resampler *soxrStreamResampler
}

// NewStreamResampler creates a streaming resampler for continuous audio.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	s := &StreamResampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return s, nil
	}
	r, err := newSoxrStreamResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	s.resampler = r
	return s, nil
}

// InRate is the rate the resampler was created for.
func (s *StreamResampler) InRate() int {
	return s.inRate
}

// Close releases the underlying resampler.
func (s *StreamResampler) Close() {
	if s == nil || s.resampler == nil {
		return
	}
	s.resampler.Close()
	s.resampler = nil
}

// WriteFloat resamples float samples and returns PCM16 bytes.
func (s *StreamResampler) WriteFloat(samples []float64) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	tmp := Float64ToFloat32Into(float32Buffers.acquire(len(samples)), samples)
	defer float32Buffers.release(tmp)
	return s.process(tmp)
}

// WritePCM resamples PCM16 bytes and returns PCM16 bytes.
func (s *StreamResampler) WritePCM(pcm []byte) ([]byte, error) {
	if len(pcm) < 2 {
		return nil, nil
	}
	if s.resampler == nil {
		return pcm, nil
	}
	tmp := PCM16ToFloat32Into(float32Buffers.acquire(len(pcm)/2), pcm)
	defer float32Buffers.release(tmp)
	return s.process(tmp)
}

// Flush drains samples held back by the resampler.
func (s *StreamResampler) Flush() ([]byte, error) {
	if s == nil || s.resampler == nil {
		return nil, nil
	}
	out, err := s.resampler.Flush()
	if err != nil {
		return nil, err
	}
	return Float32ToPCM16Into(nil, out), nil
}

func (s *StreamResampler) process(samples []float32) ([]byte, error) {
	if s.resampler == nil {
		return Float32ToPCM16Into(nil, samples), nil
	}
	out, err := s.resampler.Process(samples)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return Float32ToPCM16Into(nil, out), nil
}
