package sim

// Sample is one microphone reading.
type Sample struct {
	Time     float64 `json:"t"`
	Pressure float32 `json:"p"`
}

// Microphone taps the pressure field at a fixed cell. Its record keeps the
// most recent samples up to a fixed capacity; older samples are dropped.
type Microphone struct {
	ID ID  `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`

	buf     []Sample
	pos     int
	full    bool
	dropped uint64
}

// NewMicrophone returns a microphone retaining up to capacity samples.
func NewMicrophone(id ID, x, y, capacity int) *Microphone {
	if capacity <= 0 {
		capacity = DefaultMicHistory
	}

	return &Microphone{ID: id, X: x, Y: y, buf: make([]Sample, capacity)}
}

func (m *Microphone) push(s Sample) {
	if m.full {
		m.dropped++
	}

	m.buf[m.pos] = s
	m.pos++

	if m.pos >= len(m.buf) {
		m.pos = 0
		m.full = true
	}
}

// Len returns the number of retained samples.
func (m *Microphone) Len() int {
	if m.full {
		return len(m.buf)
	}

	return m.pos
}

// Dropped returns how many samples were evicted since the last Clear.
func (m *Microphone) Dropped() uint64 {
	return m.dropped
}

// Record returns a copy of the retained samples, oldest first.
func (m *Microphone) Record() []Sample {
	return m.Last(m.Len())
}

// Last returns a copy of the newest n retained samples, oldest first.
func (m *Microphone) Last(n int) []Sample {
	n = min(n, m.Len())
	if n <= 0 {
		return []Sample{}
	}

	out := make([]Sample, n)

	start := m.pos - n
	if start < 0 {
		start += len(m.buf)
	}

	if start+n <= len(m.buf) {
		copy(out, m.buf[start:start+n])
	} else {
		first := copy(out, m.buf[start:])
		copy(out[first:], m.buf[:n-first])
	}

	return out
}

// Clear discards all samples.
func (m *Microphone) Clear() {
	m.pos = 0
	m.full = false
	m.dropped = 0
}

// Pressures returns the pressure column of samples.
func Pressures(samples []Sample) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s.Pressure
	}

	return out
}
