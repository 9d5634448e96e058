package platform

import "github.com/google/uuid"

// NewID returns a fresh UUID string used as the primary key for all stored
// entities.
func NewID() string {
	return uuid.New().String()
}
