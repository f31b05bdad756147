package entity

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrStorageFailure = errors.New("storage failure")
)
