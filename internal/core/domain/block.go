package domain

// BlockRecord is an immutable record of one observed block. Records are
// ordered and unique by Height; the classification fields are recomputable
// from Hash alone, so a record never needs updating in place.
type BlockRecord struct {
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	Timestamp uint64    `json:"timestamp"`
	Digit     int       `json:"digit"`
	Parity    Parity    `json:"parity"`
	Magnitude Magnitude `json:"magnitude"`
}

// Parity is the odd/even class of a block's digit value.
type Parity string

const (
	ParityOdd  Parity = "ODD"
	ParityEven Parity = "EVEN"
)

// Magnitude is the big/small class of a block's digit value.
type Magnitude string

const (
	MagnitudeBig   Magnitude = "BIG"
	MagnitudeSmall Magnitude = "SMALL"
)
