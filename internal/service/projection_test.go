package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identityrecon/internal/models"
)

func TestProjectCluster(t *testing.T) {
	t0 := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	contact := func(id int64, email, phone string, linked int64, at int) *models.Contact {
		c := &models.Contact{ID: id, LinkPrecedence: models.LinkPrimary, CreatedAt: t0.Add(time.Duration(at) * time.Minute)}
		if email != "" {
			c.Email = ptr(email)
		}
		if phone != "" {
			c.PhoneNumber = ptr(phone)
		}
		if linked != 0 {
			c.LinkPrecedence = models.LinkSecondary
			c.LinkedID = ptr(linked)
		}
		return c
	}

	tests := []struct {
		name      string
		cluster   []*models.Contact
		primaryID int64
		expected  models.ContactResponse
	}{
		{
			name:      "lone primary with only an email",
			cluster:   []*models.Contact{contact(1, "a@x.com", "", 0, 0)},
			primaryID: 1,
			expected: models.ContactResponse{
				PrimaryContactID:    1,
				Emails:              []string{"a@x.com"},
				PhoneNumbers:        []string{},
				SecondaryContactIDs: []int64{},
			},
		},
		{
			name: "dedupes values in cluster order",
			cluster: []*models.Contact{
				contact(1, "a@x.com", "1", 0, 0),
				contact(2, "b@x.com", "1", 1, 1),
				contact(3, "a@x.com", "2", 1, 2),
				contact(4, "b@x.com", "2", 1, 3),
			},
			primaryID: 1,
			expected: models.ContactResponse{
				PrimaryContactID:    1,
				Emails:              []string{"a@x.com", "b@x.com"},
				PhoneNumbers:        []string{"1", "2"},
				SecondaryContactIDs: []int64{2, 3, 4},
			},
		},
		{
			name: "primary values go first even when a secondary sorts earlier",
			cluster: []*models.Contact{
				contact(5, "early@x.com", "9", 7, 0),
				contact(7, "primary@x.com", "1", 0, 1),
			},
			primaryID: 7,
			expected: models.ContactResponse{
				PrimaryContactID:    7,
				Emails:              []string{"primary@x.com", "early@x.com"},
				PhoneNumbers:        []string{"1", "9"},
				SecondaryContactIDs: []int64{5},
			},
		},
		{
			name: "primary without phone leaves phone order to secondaries",
			cluster: []*models.Contact{
				contact(1, "a@x.com", "", 0, 0),
				contact(2, "", "555", 1, 1),
			},
			primaryID: 1,
			expected: models.ContactResponse{
				PrimaryContactID:    1,
				Emails:              []string{"a@x.com"},
				PhoneNumbers:        []string{"555"},
				SecondaryContactIDs: []int64{2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := projectCluster(tt.cluster, tt.primaryID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Contact)
		})
	}
}

func TestProjectClusterMissingPrimary(t *testing.T) {
	_, err := projectCluster([]*models.Contact{{ID: 2, Email: ptr("a@x.com")}}, 1)
	assert.Error(t, err)
}

func TestHasNewInformation(t *testing.T) {
	cluster := []*models.Contact{
		{ID: 1, Email: ptr("a@x.com"), PhoneNumber: ptr("1")},
		{ID: 2, Email: ptr("b@x.com")},
	}

	assert.False(t, hasNewInformation(cluster, ptr("a@x.com"), nil))
	assert.False(t, hasNewInformation(cluster, nil, ptr("1")))
	assert.False(t, hasNewInformation(cluster, ptr("b@x.com"), ptr("1")), "known values from different contacts")
	assert.True(t, hasNewInformation(cluster, ptr("c@x.com"), ptr("1")))
	assert.True(t, hasNewInformation(cluster, ptr("a@x.com"), ptr("2")))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, normalize(nil))
	assert.Nil(t, normalize(ptr("")))
	assert.Nil(t, normalize(ptr(" \t ")))
	assert.Equal(t, "a@x.com", *normalize(ptr("  a@x.com\n")))
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, []string{"email:a@x.com", "phone:1"}, lockKeys(ptr("a@x.com"), ptr("1")))
	assert.Equal(t, []string{"phone:1"}, lockKeys(nil, ptr("1")))
	assert.Empty(t, lockKeys(nil, nil))
}
