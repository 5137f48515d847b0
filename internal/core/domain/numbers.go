package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// AccountNumberPrefix is the fixed bank prefix of every account number.
	AccountNumberPrefix = "50100"
	accountNumberDigits = 7

	referenceLength   = 12
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// MirrorReferencePrefix marks the recipient-side credit row of an internal transfer.
	MirrorReferencePrefix = "CR"
)

// NewAccountNumber returns "50100" followed by 7 random digits.
// Uniqueness is enforced by the store; callers retry on ErrDuplicateAccountNumber.
func NewAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate account number: %w", err)
	}
	return fmt.Sprintf("%s%07d", AccountNumberPrefix, n.Int64()+1_000_000), nil
}

// NewReferenceNumber returns a 12 character code drawn from A-Z and 0-9.
func NewReferenceNumber() (string, error) {
	buf := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate reference number: %w", err)
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// MirrorReference derives the reference of the recipient credit row.
// Base references are always referenceLength long, so a derived reference
// can never equal a base one, and two derived references collide only when
// their bases do.
func MirrorReference(ref string) string {
	return MirrorReferencePrefix + ref
}
