package domain

// Classification is the derived categorical view of a block hash.
type Classification struct {
	Digit     int
	Parity    Parity
	Magnitude Magnitude
}
