// Package vmmid validates the identifier format shared by the VMM id
// ("--id") and the jailer id ("--id" under jailer), both of which
// Firecracker accepts in the form of 5 to 60 alphanumeric or dash
// characters.
package vmmid

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a validated Firecracker/jailer identifier: 5-60 characters long,
// containing only ASCII letters, digits and dashes.
type ID string

// Error describes why a candidate identifier was rejected.
type Error struct {
	Candidate string
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid vmm id %q: %s", e.Candidate, e.Reason)
}

const (
	minLength = 5
	maxLength = 60
)

// New validates s and returns it as an ID, or an *Error describing why it
// was rejected.
func New(s string) (ID, error) {
	if len(s) < minLength {
		return "", &Error{Candidate: s, Reason: "too short, minimum length is 5"}
	}
	if len(s) > maxLength {
		return "", &Error{Candidate: s, Reason: "too long, maximum length is 60"}
	}
	for _, c := range s {
		if !isAlphanumeric(c) && c != '-' {
			return "", &Error{Candidate: s, Reason: fmt.Sprintf("contains invalid character %q", c)}
		}
	}
	return ID(s), nil
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Generate produces a fresh random, valid ID, suitable as a default VMM id
// or jail id when the caller has no preference. It derives from a UUIDv4
// so collisions across concurrently-launched VMMs are practically
// impossible.
func Generate(prefix string) ID {
	candidate := prefix + uuid.NewString()
	if len(candidate) > maxLength {
		candidate = candidate[:maxLength]
	}
	id, err := New(candidate)
	if err != nil {
		// uuid.NewString() is always 36 lowercase-hex-and-dash characters
		// and the candidate is cut to 60, so a prefix of letters, digits
		// and dashes can never fail validation.
		panic(fmt.Sprintf("vmmid: generated candidate unexpectedly invalid: %v", err))
	}
	return id
}
