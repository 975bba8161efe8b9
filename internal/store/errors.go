package store

import (
	"errors"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// ErrStale is returned when an optimistic write finds the record changed since it was read.
var ErrStale = &models.ConflictError{Reason: "record modified concurrently"}

// IsStale reports whether err is an optimistic-concurrency failure.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

func notFound(id string) error {
	return &models.NotFoundError{Kind: "memory", ID: id}
}
