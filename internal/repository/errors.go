package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness constraint was violated.
var ErrConflict = errors.New("repository: conflict")

// ErrNameConflict is the ErrConflict raised when a workload name is taken.
var ErrNameConflict = fmt.Errorf("%w: workload name", ErrConflict)
