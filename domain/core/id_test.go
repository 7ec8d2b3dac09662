package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestParseTestID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "test-123", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseTestID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTestID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id.String() != tt.input {
				t.Errorf("ParseTestID(%q) = %q", tt.input, id)
			}
		})
	}
}

func TestGroupOther(t *testing.T) {
	if GroupA.Other() != GroupB {
		t.Errorf("GroupA.Other() = %s, want B", GroupA.Other())
	}
	if GroupB.Other() != GroupA {
		t.Errorf("GroupB.Other() = %s, want A", GroupB.Other())
	}
	if Group("C").Valid() {
		t.Error("Group C should not be valid")
	}
}
