package audio

// Ring is a fixed-capacity buffer holding the most recent float32 samples.
// The analysis tick reads a snapshot of it once per tick. Not safe for
// concurrent use; the owning session goroutine is its only user.
type Ring struct {
	buf  []float32
	head int // next write position
	full bool
}

// NewRing returns an empty ring holding up to size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{buf: make([]float32, size)}
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of valid samples currently held.
func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

// Write appends samples, overwriting the oldest ones once full.
func (r *Ring) Write(samples []float32) {
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.head = 0
		r.full = true
		return
	}
	for len(samples) > 0 {
		n := copy(r.buf[r.head:], samples)
		samples = samples[n:]
		r.head += n
		if r.head == len(r.buf) {
			r.head = 0
			r.full = true
		}
	}
}

// Snapshot copies the held samples, oldest first, into dst (grown as needed)
// and returns it.
func (r *Ring) Snapshot(dst []float32) []float32 {
	n := r.Len()
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	if !r.full {
		copy(dst, r.buf[:r.head])
		return dst
	}
	k := copy(dst, r.buf[r.head:])
	copy(dst[k:], r.buf[:r.head])
	return dst
}

// Reset discards all samples.
func (r *Ring) Reset() {
	r.head = 0
	r.full = false
	clear(r.buf)
}
