package audio

import "sync"

// slicePool recycles sample scratch buffers between resampler calls.
// Pointers are pooled so Put does not allocate.
type slicePool[T any] struct {
	pool sync.Pool
}

var float32Buffers slicePool[float32]

// acquire returns a slice of length size, reusing pooled capacity when it
// is large enough.
func (p *slicePool[T]) acquire(size int) []T {
	if size <= 0 {
		return nil
	}
	if v, ok := p.pool.Get().(*[]T); ok && cap(*v) >= size {
		return (*v)[:size]
	}
	return make([]T, size)
}

func (p *slicePool[T]) release(buf []T) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}
