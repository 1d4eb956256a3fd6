package room

import (
	"testing"

	"github.com/conorfennell/studyroom/internal/domain"
)

func emails(ps []domain.Participant) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Email)
	}
	return out
}

func TestDiffRoster(t *testing.T) {
	testCases := []struct {
		name     string
		prev     []domain.Participant
		cur      []domain.Participant
		self     string
		arrived  []string
		departed []string
	}{
		{"No change", participants("a", "b"), participants("b", "a"), "a", nil, nil},
		{"Someone arrives", participants("a"), participants("a", "b"), "a", []string{"b"}, nil},
		{"Self arrival is not reported", participants("b"), participants("b", "a"), "a", nil, nil},
		{"Someone leaves", participants("a", "b", "c"), participants("a"), "a", nil, []string{"b", "c"}},
		{"Arrive and leave at once", participants("a", "b"), participants("a", "c"), "a", []string{"c"}, []string{"b"}},
		{"Rename is not a move", participants("a"), []domain.Participant{{Email: "a", DisplayName: "New"}}, "x", nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			arrived, departed := DiffRoster(tc.prev, tc.cur, tc.self)
			if got := emails(arrived); !equal(got, tc.arrived) {
				t.Errorf("Expected arrivals %v but got %v", tc.arrived, got)
			}
			if got := emails(departed); !equal(got, tc.departed) {
				t.Errorf("Expected departures %v but got %v", tc.departed, got)
			}
		})
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
