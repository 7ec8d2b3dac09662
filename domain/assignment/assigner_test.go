package assignment

import (
	"errors"
	"fmt"
	"testing"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
)

func makeLeads(n int) []experiment.Lead {
	leads := make([]experiment.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, experiment.Lead{
			ID:    core.LeadID(fmt.Sprintf("lead-%03d", i)),
			Phone: fmt.Sprintf("+3519%08d", i),
		})
	}
	return leads
}

func TestAssign_OneToOne_PrefixBalance(t *testing.T) {
	for _, n := range []int{1, 2, 7, 10, 101} {
		leads := makeLeads(n)
		assignments, err := Assign(leads, experiment.AssignmentConfig{Mode: experiment.ModeRandomOneToOne})
		if err != nil {
			t.Fatalf("Assign(%d leads) failed: %v", n, err)
		}
		if len(assignments) != n {
			t.Fatalf("expected %d assignments, got %d", n, len(assignments))
		}

		countA, countB := 0, 0
		for i, a := range assignments {
			if a.Group == core.GroupA {
				countA++
			} else {
				countB++
			}
			if diff := countA - countB; diff < -1 || diff > 1 {
				t.Errorf("n=%d: balance broken at prefix %d: A=%d B=%d", n, i+1, countA, countB)
			}
		}
		// Odd lead counts tip toward A.
		if n%2 == 1 && countA != countB+1 {
			t.Errorf("n=%d: expected A to carry the extra lead, got A=%d B=%d", n, countA, countB)
		}
	}
}

func TestAssign_OneToOne_OutputOrderMatchesInput(t *testing.T) {
	leads := makeLeads(10)
	assignments, err := Assign(leads, experiment.AssignmentConfig{Mode: experiment.ModeRandomOneToOne})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	for i, a := range assignments {
		if a.LeadID != leads[i].ID {
			t.Errorf("position %d: expected lead %s, got %s", i, leads[i].ID, a.LeadID)
		}
	}
}

func TestAssign_Stratified_Deterministic(t *testing.T) {
	leads := []experiment.Lead{
		{ID: "l1", Phone: "+351911111111", Sector: "retail", Region: "north"},
		{ID: "l2", Phone: "+351922222222", Sector: "retail", Region: "north"},
		{ID: "l3", Phone: "+351933333333", Sector: "retail", Region: "south"},
		{ID: "l4", Phone: "+351944444444", Sector: "retail", Region: "south"},
		{ID: "l5", Phone: "+351955555555", Sector: "tech", Region: "north"},
		{ID: "l6", Phone: "+351966666666", Sector: "tech", Region: "north"},
	}
	cfg := experiment.AssignmentConfig{Mode: experiment.ModeStratified, BlockSize: 2, Seed: 42}

	first, err := Assign(leads, cfg)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	second, err := Assign(leads, cfg)
	if err != nil {
		t.Fatalf("Assign failed on rerun: %v", err)
	}
	for i := range first {
		if first[i].Group != second[i].Group {
			t.Errorf("lead %s: group changed between runs with the same seed", first[i].LeadID)
		}
	}
}

func TestAssign_Stratified_BalancedWithinStratum(t *testing.T) {
	var leads []experiment.Lead
	for i := 0; i < 8; i++ {
		leads = append(leads, experiment.Lead{
			ID:     core.LeadID(fmt.Sprintf("r-%d", i)),
			Phone:  fmt.Sprintf("+3519%08d", i),
			Sector: "retail", Region: "north",
		})
	}
	for i := 0; i < 4; i++ {
		leads = append(leads, experiment.Lead{
			ID:     core.LeadID(fmt.Sprintf("t-%d", i)),
			Phone:  fmt.Sprintf("+3518%08d", i),
			Sector: "tech", Region: "south",
		})
	}

	assignments, err := Assign(leads, experiment.AssignmentConfig{Mode: experiment.ModeStratified, BlockSize: 4, Seed: 7})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	counts := make(map[string]map[core.Group]int)
	byID := make(map[core.LeadID]experiment.Assignment)
	for _, a := range assignments {
		byID[a.LeadID] = a
	}
	for _, lead := range leads {
		a := byID[lead.ID]
		key := lead.StratumKey()
		if counts[key] == nil {
			counts[key] = make(map[core.Group]int)
		}
		counts[key][a.Group]++
	}
	for key, c := range counts {
		if c[core.GroupA] != c[core.GroupB] {
			t.Errorf("stratum %s: expected an even split, got A=%d B=%d", key, c[core.GroupA], c[core.GroupB])
		}
	}
}

func TestAssign_Stratified_OddRemainderStaysWithinOne(t *testing.T) {
	var leads []experiment.Lead
	for i := 0; i < 5; i++ {
		leads = append(leads, experiment.Lead{
			ID:     core.LeadID(fmt.Sprintf("x-%d", i)),
			Phone:  fmt.Sprintf("+3517%08d", i),
			Sector: "agri", Region: "east",
		})
	}
	assignments, err := Assign(leads, experiment.AssignmentConfig{Mode: experiment.ModeStratified, BlockSize: 2, Seed: 3})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	countA, countB := 0, 0
	for _, a := range assignments {
		if a.Group == core.GroupA {
			countA++
		} else {
			countB++
		}
	}
	if diff := countA - countB; diff < -1 || diff > 1 {
		t.Errorf("5-lead stratum imbalance too large: A=%d B=%d", countA, countB)
	}
}

func TestAssign_Validation(t *testing.T) {
	leads := makeLeads(4)
	tests := []struct {
		name    string
		leads   []experiment.Lead
		cfg     experiment.AssignmentConfig
		wantErr error
	}{
		{"empty leads", nil, experiment.AssignmentConfig{Mode: experiment.ModeRandomOneToOne}, core.ErrEmptyLeadList},
		{"missing mode", leads, experiment.AssignmentConfig{}, core.ErrMissingMode},
		{"odd block size", leads, experiment.AssignmentConfig{Mode: experiment.ModeStratified, BlockSize: 3}, core.ErrInvalidBlockSize},
		{"tiny block size", leads, experiment.AssignmentConfig{Mode: experiment.ModeStratified, BlockSize: 0}, core.ErrInvalidBlockSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assign(tt.leads, tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
