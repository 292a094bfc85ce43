package server

import "sync"

// bufferPool hands out fixed-size read buffers, one per live session.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	p := &bufferPool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// get returns a buffer of exactly p.size bytes
func (p *bufferPool) get() []byte {
	buf := p.pool.Get().(*[]byte)
	return (*buf)[:p.size]
}

// put returns a buffer to the pool. Buffers of another capacity are left to
// the GC.
func (p *bufferPool) put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	full := buf[:p.size]
	p.pool.Put(&full)
}
