package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// QueryID identifies one executed dashboard query
type QueryID ID

// NewQueryID creates a time-ordered query identifier
func NewQueryID() QueryID { return QueryID(NewID()) }

func (id QueryID) String() string { return ID(id).String() }

// ParseQueryID validates a query identifier supplied by a client
func ParseQueryID(s string) (QueryID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("query ID cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("query ID %q is not a UUID: %w", s, err)
	}
	return QueryID(s), nil
}
