// Package pool implements component C8: a size-classed buffer pool and a
// string interner for the hot paths (query parsing, snippet assembly, JSON
// encoding). No pack example implements a resource pool, so this is built
// directly on sync.Pool, the standard library's own scoped-acquisition
// free-list primitive, per spec.md §9 ("bounded free-lists with scoped
// acquisition and guaranteed release on all exit paths"). Removing this
// package must not change observable behavior, only latency, per spec.md
// §4.7 — no caller depends on pooled buffers being zeroed or retaining
// identity across Put/Get.
package pool

import "sync"

const (
	smallClass  = 1 << 10  // 1 KB
	mediumClass = 64 << 10 // 64 KB
)

// Buffers is a size-classed []byte pool with three classes: small (<=1KB),
// medium (<=64KB) and large (>64KB, unpooled — returned buffers in this
// class are simply discarded on Put since pooling very large, rarely
// reused slices would grow steady-state memory for no latency benefit).
type Buffers struct {
	small  sync.Pool
	medium sync.Pool
}

// NewBuffers constructs an empty pool set.
func NewBuffers() *Buffers {
	return &Buffers{
		small: sync.Pool{New: func() any {
			b := make([]byte, 0, smallClass)
			return &b
		}},
		medium: sync.Pool{New: func() any {
			b := make([]byte, 0, mediumClass)
			return &b
		}},
	}
}

// Get returns a buffer with at least the requested capacity. Callers
// return it via Put when done; failing to do so only costs an allocation
// next time, never correctness.
func (p *Buffers) Get(minCap int) *[]byte {
	switch {
	case minCap <= smallClass:
		buf := p.small.Get().(*[]byte)
		if cap(*buf) < minCap {
			b := make([]byte, 0, smallClass)
			return &b
		}

		*buf = (*buf)[:0]

		return buf
	case minCap <= mediumClass:
		buf := p.medium.Get().(*[]byte)
		if cap(*buf) < minCap {
			b := make([]byte, 0, mediumClass)
			return &b
		}

		*buf = (*buf)[:0]

		return buf
	default:
		b := make([]byte, 0, minCap)
		return &b
	}
}

// Put returns a buffer to its size class pool, a no-op for oversized
// buffers.
func (p *Buffers) Put(buf *[]byte) {
	if buf == nil {
		return
	}

	switch cap(*buf) {
	case 0:
		return
	default:
		switch {
		case cap(*buf) <= smallClass:
			p.small.Put(buf)
		case cap(*buf) <= mediumClass:
			p.medium.Put(buf)
		}
	}
}

// Interner deduplicates frequently repeated strings (aliases, heading
// segments) so hot paths share one backing array instead of allocating a
// fresh string per occurrence.
type Interner struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInterner constructs an empty Interner.
func NewInterner() *Interner {
	return &Interner{values: make(map[string]string)}
}

// Intern returns the canonical copy of s, recording it on first sight.
func (in *Interner) Intern(s string) string {
	in.mu.RLock()
	v, ok := in.values[s]
	in.mu.RUnlock()

	if ok {
		return v
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if v, ok := in.values[s]; ok {
		return v
	}

	in.values[s] = s

	return s
}
