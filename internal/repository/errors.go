package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrAmbiguous indicates a lookup matched more than one entity. Callers treat
// this as a miss for the strategy that produced it, never as a hit on an
// arbitrary row.
var ErrAmbiguous = errors.New("repository: ambiguous match")

// ErrConflict indicates a uniqueness constraint was violated.
var ErrConflict = errors.New("repository: already exists")
