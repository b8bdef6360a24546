package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"identityrecon/internal/models"
)

// InMemoryStore keeps contacts in process memory. It honours the same
// ordering and soft-delete rules as SQLStore but enforces no foreign keys,
// so tests can seed dangling or chained links.
type InMemoryStore struct {
	mu       sync.Mutex
	contacts []models.Contact
	nextID   int64
	now      func() time.Time
}

func NewInMemory(opts ...Option) *InMemoryStore {
	o := newOptions(opts)
	return &InMemoryStore{nextID: 1, now: o.now}
}

// RunInTx holds the store lock for the whole of fn and restores the previous
// state when fn returns an error.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := slices.Clone(s.contacts)
	nextID := s.nextID
	if err := fn(memoryTx{s}); err != nil {
		s.contacts = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *InMemoryStore) FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByValue(email, phone), nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByID(id)
}

func (s *InMemoryStore) GetCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCluster(primaryID), nil
}

func (s *InMemoryStore) Insert(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(email, phone, linkedID, precedence)
}

func (s *InMemoryStore) Demote(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demote(oldPrimaryID, newPrimaryID)
}

// SoftDelete stamps deleted_at on a live contact. Nothing in the resolution
// flow deletes; this exists for seeding anomalies.
func (s *InMemoryStore) SoftDelete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID == id && s.contacts[i].DeletedAt == nil {
			now := s.now()
			s.contacts[i].DeletedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

// All returns every stored contact, deleted ones included, in id order.
func (s *InMemoryStore) All() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.contacts)
}

func (s *InMemoryStore) findByValue(email, phone *string) []*models.Contact {
	if !present(email) && !present(phone) {
		return nil
	}
	return s.selectLive(func(c *models.Contact) bool {
		return (present(email) && c.Email != nil && *c.Email == *email) ||
			(present(phone) && c.PhoneNumber != nil && *c.PhoneNumber == *phone)
	})
}

func (s *InMemoryStore) getByID(id int64) (*models.Contact, error) {
	found := s.selectLive(func(c *models.Contact) bool { return c.ID == id })
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

func (s *InMemoryStore) getCluster(primaryID int64) []*models.Contact {
	return s.selectLive(func(c *models.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	})
}

func (s *InMemoryStore) insert(email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	if !precedence.Valid() {
		return nil, fmt.Errorf("insert contact: invalid link precedence %q", precedence)
	}
	now := s.now()
	c := models.Contact{
		ID:             s.nextID,
		Email:          cloneString(email),
		PhoneNumber:    cloneString(phone),
		LinkedID:       cloneInt(linkedID),
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextID++
	s.contacts = append(s.contacts, c)
	return copyContact(&c), nil
}

func (s *InMemoryStore) demote(oldPrimaryID, newPrimaryID int64) error {
	idx := slices.IndexFunc(s.contacts, func(c models.Contact) bool { return c.ID == oldPrimaryID })
	if idx < 0 {
		return fmt.Errorf("demote contact %d: %w", oldPrimaryID, ErrNotFound)
	}
	now := s.now()
	s.contacts[idx].LinkPrecedence = models.LinkSecondary
	s.contacts[idx].LinkedID = &newPrimaryID
	s.contacts[idx].UpdatedAt = now

	for i := range s.contacts {
		c := &s.contacts[i]
		if c.ID != oldPrimaryID && c.LinkedID != nil && *c.LinkedID == oldPrimaryID {
			target := newPrimaryID
			c.LinkedID = &target
			c.UpdatedAt = now
		}
	}
	return nil
}

// selectLive returns copies of matching non-deleted contacts ordered by
// created_at, then id.
func (s *InMemoryStore) selectLive(match func(*models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for i := range s.contacts {
		c := &s.contacts[i]
		if c.DeletedAt != nil || !match(c) {
			continue
		}
		out = append(out, copyContact(c))
	}
	slices.SortStableFunc(out, func(a, b *models.Contact) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// memoryTx is the lock-free view handed to RunInTx callbacks.
type memoryTx struct {
	s *InMemoryStore
}

func (t memoryTx) FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	return t.s.findByValue(email, phone), nil
}

func (t memoryTx) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	return t.s.getByID(id)
}

func (t memoryTx) GetCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	return t.s.getCluster(primaryID), nil
}

func (t memoryTx) Insert(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	return t.s.insert(email, phone, linkedID, precedence)
}

func (t memoryTx) Demote(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	return t.s.demote(oldPrimaryID, newPrimaryID)
}

// LockContacts needs no row locks here: RunInTx already holds the store
// mutex for the whole transaction.
func (t memoryTx) LockContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	found := t.s.selectLive(func(c *models.Contact) bool { return slices.Contains(ids, c.ID) })
	slices.SortFunc(found, func(a, b *models.Contact) int { return cmp.Compare(a.ID, b.ID) })
	return found, nil
}

func copyContact(c *models.Contact) *models.Contact {
	out := *c
	out.Email = cloneString(c.Email)
	out.PhoneNumber = cloneString(c.PhoneNumber)
	out.LinkedID = cloneInt(c.LinkedID)
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
