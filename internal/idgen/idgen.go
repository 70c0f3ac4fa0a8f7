// Package idgen generates issue, run and event identifiers.
//
// Issue ids are short nanoid strings meant to be typed by hand. Run and
// event ids are UUIDv7, so lexical order matches creation order.
package idgen

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultPrefix is prepended to every generated issue ID.
var DefaultPrefix = "kg-"

// Lower case only, so ids survive case-insensitive filesystems.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const (
	length      = 8
	maxAttempts = 5
)

// ErrExhausted is returned by Unique when every candidate was taken.
var ErrExhausted = errors.New("idgen: no free issue id")

// Generate returns a random issue ID with the default prefix.
func Generate() (string, error) {
	return generate(DefaultPrefix)
}

func generate(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Unique returns an issue ID for which taken reports false. An error from
// taken stops the search.
func Unique(prefix string, taken func(id string) (bool, error)) (string, error) {
	for range maxAttempts {
		id, err := generate(prefix)
		if err != nil {
			return "", err
		}
		used, err := taken(id)
		if err != nil {
			return "", err
		}
		if !used {
			return id, nil
		}
	}
	return "", ErrExhausted
}

// NewRunID returns a time-ordered id for a gate run.
func NewRunID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return u.String(), nil
}

// NewEventID returns a time-ordered id for an audit event.
func NewEventID() (string, error) {
	return NewRunID()
}
