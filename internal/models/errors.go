package models

import "errors"

var (
	// ErrNotFound is returned when a post does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrAlreadyExists is returned when a post ID is already taken.
	ErrAlreadyExists = errors.New("post already exists")

	// ErrInvalidInput is returned when a request fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoFieldsToUpdate is returned when an update request is empty.
	ErrNoFieldsToUpdate = errors.New("no fields to update")
)
