package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idLength = 21

// NewID returns a fresh public id for rows created by this service.
func NewID() (string, error) {
	return gonanoid.New(idLength)
}
