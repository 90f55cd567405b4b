package database

import "errors"

var (
	// ErrShortCodeExists is returned when an attempt is made to persist
	// a shortened URL with a short code that already exists.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrLongURLExists is returned when an attempt is made to shorten
	// a long URL that has already been shortened.
	ErrLongURLExists = errors.New("long url exists")
	// ErrURLNotFound is returned when an attempt is made to retrieve
	// a URL using a short code or long URL that doesn't exist.
	ErrURLNotFound = errors.New("url not found")
)
