package domain

// GapInterval describes a contiguous range of heights missing from the
// persisted set. It is transient, recomputed on demand, never persisted.
type GapInterval struct {
	From uint64
	To   uint64
}

// Count returns the number of missing heights in the interval.
func (g GapInterval) Count() uint64 {
	if g.To < g.From {
		return 0
	}
	return g.To - g.From + 1
}
