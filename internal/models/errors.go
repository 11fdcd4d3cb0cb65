package models

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidOperation = errors.New("invalid sync operation")
)
