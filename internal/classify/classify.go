// Package classify derives the categorical (parity, magnitude) pair from a
// block hash. Classification is a pure function of the hash: the last decimal
// digit appearing in the string decides everything, so repeated calls for the
// same hash always agree.
package classify

import (
	"github.com/minhvn/blockpulse/internal/core/domain"
)

// Classify maps a block hash to its classification. The digit value is the
// last decimal digit present in the hash (0 if the hash carries none),
// parity is digit mod 2 and magnitude is digit >= 5.
func Classify(hash string) domain.Classification {
	digit := lastDigit(hash)

	parity := domain.ParityEven
	if digit%2 == 1 {
		parity = domain.ParityOdd
	}

	magnitude := domain.MagnitudeSmall
	if digit >= 5 {
		magnitude = domain.MagnitudeBig
	}

	return domain.Classification{
		Digit:     digit,
		Parity:    parity,
		Magnitude: magnitude,
	}
}

// Apply stamps the classification for record.Hash onto the record.
func Apply(record *domain.BlockRecord) {
	c := Classify(record.Hash)
	record.Digit = c.Digit
	record.Parity = c.Parity
	record.Magnitude = c.Magnitude
}

func lastDigit(hash string) int {
	for i := len(hash) - 1; i >= 0; i-- {
		if hash[i] >= '0' && hash[i] <= '9' {
			return int(hash[i] - '0')
		}
	}
	return 0
}
