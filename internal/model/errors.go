package model

import "errors"

// Error classes shared by the submission, worker and query paths.
var (
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage unavailable")
	ErrQueue      = errors.New("queue unavailable")
	ErrNotFound   = errors.New("not found")
	ErrSeparation = errors.New("separation failed")
)
