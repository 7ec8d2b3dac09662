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
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
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

// Domain-specific ID types
type (
	TestID ID
	CallID ID
	LeadID ID
	WaveID ID
)

// String conversions for domain IDs
func (id TestID) String() string { return ID(id).String() }
func (id CallID) String() string { return ID(id).String() }
func (id LeadID) String() string { return ID(id).String() }
func (id WaveID) String() string { return ID(id).String() }

// ParseTestID parses a string into TestID
func ParseTestID(s string) (TestID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("test ID cannot be empty")
	}
	return TestID(s), nil
}

// ParseLeadID parses a string into LeadID
func ParseLeadID(s string) (LeadID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("lead ID cannot be empty")
	}
	return LeadID(s), nil
}

// ParseCallID parses a string into CallID
func ParseCallID(s string) (CallID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("call ID cannot be empty")
	}
	return CallID(s), nil
}
