// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed structural validation.
var ErrValidation = errors.New("validation failed")

// ErrLoopDetected indicates the loop detector raised a fatal verdict;
// the current execution path must be treated as terminal.
var ErrLoopDetected = errors.New("loop detected")
