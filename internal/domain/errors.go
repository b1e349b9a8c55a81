package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAllKeysExhausted = errors.New("all provider credentials exhausted")
	ErrJobStalled       = errors.New("job stalled")
)
