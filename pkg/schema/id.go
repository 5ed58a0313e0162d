package schema

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewSessionID generates a new session ID in format SES-{nanoid(12)}.
func NewSessionID() (string, error) {
	id, err := gonanoid.New(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SES-%s", id), nil
}

// NewArtifactID generates a new artifact ID in format ART-{nanoid(10)}.
func NewArtifactID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ART-%s", id), nil
}

// NewRunID returns a fresh generation run identifier.
func NewRunID() string {
	return uuid.New().String()
}
