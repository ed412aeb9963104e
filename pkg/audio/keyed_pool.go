package audio

import "sync"

// keyedPool keeps one sync.Pool per configuration key, so stateful codecs
// are only reused with the parameters they were created for.
type keyedPool[K comparable, V any] struct {
	pools sync.Map
}

func (p *keyedPool[K, V]) pool(key K) *sync.Pool {
	if pool, ok := p.pools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := p.pools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func (p *keyedPool[K, V]) get(key K, create func() (V, error)) (V, error) {
	if v, ok := p.pool(key).Get().(V); ok {
		return v, nil
	}
	return create()
}

func (p *keyedPool[K, V]) put(key K, v V) {
	p.pool(key).Put(v)
}
