package sim

// ID identifies a source, microphone or wall. Zero is never allocated.
type ID uint64

// IDAllocator hands out increasing ids and never reuses one, even after
// the entity holding it is removed.
type IDAllocator struct {
	last ID
}

// Next returns a fresh id.
func (a *IDAllocator) Next() ID {
	a.last++

	return a.last
}

// Observe records an id allocated elsewhere, e.g. read from a scene file,
// so later ids stay above it.
func (a *IDAllocator) Observe(id ID) {
	if id > a.last {
		a.last = id
	}
}

// Last returns the most recently allocated or observed id.
func (a *IDAllocator) Last() ID {
	return a.last
}
