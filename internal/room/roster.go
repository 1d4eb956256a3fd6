package room

import "github.com/conorfennell/studyroom/internal/domain"

const DefaultDisplayName = "Student"

// DiffRoster compares two roster snapshots by email. Arrivals exclude self.
func DiffRoster(prev, cur []domain.Participant, self string) (arrived, departed []domain.Participant) {
	before := make(map[string]bool, len(prev))
	for _, p := range prev {
		before[p.Email] = true
	}
	after := make(map[string]bool, len(cur))
	for _, p := range cur {
		after[p.Email] = true
	}

	for _, p := range cur {
		if !before[p.Email] && p.Email != self {
			arrived = append(arrived, p)
		}
	}
	for _, p := range prev {
		if !after[p.Email] {
			departed = append(departed, p)
		}
	}
	return arrived, departed
}

func withDefaultName(p domain.Participant) domain.Participant {
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	return p
}
