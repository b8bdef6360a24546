package service

import (
	"fmt"

	"identityrecon/internal/models"
)

// projectCluster builds the consolidated view of a cluster ordered by
// created_at. The primary's email and phone always take the first slot of
// their lists; the rest follow in cluster order without repeats.
func projectCluster(cluster []*models.Contact, primaryID int64) (*models.IdentifyResponse, error) {
	var primary *models.Contact
	for _, c := range cluster {
		if c.ID == primaryID {
			primary = c
			break
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("primary contact %d missing from its cluster", primaryID)
	}

	emails := newOrderedSet()
	phoneNumbers := newOrderedSet()
	secondaryContactIDs := []int64{}

	emails.add(primary.Email)
	phoneNumbers.add(primary.PhoneNumber)
	for _, c := range cluster {
		if c.ID == primaryID {
			continue
		}
		emails.add(c.Email)
		phoneNumbers.add(c.PhoneNumber)
		secondaryContactIDs = append(secondaryContactIDs, c.ID)
	}

	return &models.IdentifyResponse{
		Contact: models.ContactResponse{
			PrimaryContactID:    primaryID,
			Emails:              emails.values,
			PhoneNumbers:        phoneNumbers.values,
			SecondaryContactIDs: secondaryContactIDs,
		},
	}, nil
}

// orderedSet keeps first-insertion order and skips absent or blank values.
type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), values: []string{}}
}

func (s *orderedSet) add(v *string) {
	if v == nil || *v == "" {
		return
	}
	if _, ok := s.seen[*v]; ok {
		return
	}
	s.seen[*v] = struct{}{}
	s.values = append(s.values, *v)
}
