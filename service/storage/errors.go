package storage

import "github.com/pkg/errors"

var (
	ErrNotFound     = errors.New("record not found")
	ErrEmptyContent = errors.New("message content is empty")
)
