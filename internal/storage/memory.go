package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"identityrecon/internal/models"
)

// MemoryStore is an in-process Store. All operations, and every RunInTx body,
// run under a single mutex; a failed transaction restores the pre-transaction snapshot.
type MemoryStore struct {
	mu       sync.Mutex
	contacts map[int64]*models.Contact
	nextID   int64
	now      func() time.Time
	persist  func(contacts []*models.Contact) error
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed inserts a fully specified contact, keeping its id and timestamps.
// It exists for fixtures and imports; the resolver only ever uses Create.
func (s *MemoryStore) Seed(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := c.Clone()
	if cp.ID == 0 {
		cp.ID = s.nextID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.contacts[cp.ID] = cp
	if cp.ID >= s.nextID {
		s.nextID = cp.ID + 1
	}
}

// All returns a copy of every contact, soft-deleted ones included, ordered by id.
func (s *MemoryStore) All() []*models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.findByEmailOrPhone(email, phone), nil
}

func (s *MemoryStore) Create(ctx context.Context, c models.NewContact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := s.apply(func() error {
		var err error
		id, err = s.create(c)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *MemoryStore) FindLinkedContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.findLinked(ids), nil
}

func (s *MemoryStore) UpdateToSecondary(ctx context.Context, id, primaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.apply(func() error {
		s.toSecondary(id, primaryID)
		return nil
	})
}

func (s *MemoryStore) UpdateLinkedContacts(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.apply(func() error {
		s.relink(oldPrimaryID, newPrimaryID)
		return nil
	})
}

func (s *MemoryStore) UpdateToPrimary(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.apply(func() error {
		s.toPrimary(id)
		return nil
	})
}

// RunInTx runs fn while holding the store lock. If fn (or persisting its result) fails,
// every mutation made inside fn is discarded.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx ContactStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.apply(func() error {
		return fn(&memoryTx{s: s})
	})
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// apply runs mutate and persists the result. Either step failing restores the
// contacts as they were before mutate ran. Callers hold s.mu.
func (s *MemoryStore) apply(mutate func() error) error {
	snapshot, nextID := s.snapshot()
	if err := mutate(); err != nil {
		s.contacts, s.nextID = snapshot, nextID
		return err
	}
	if err := s.flush(); err != nil {
		s.contacts, s.nextID = snapshot, nextID
		return err
	}
	return nil
}

func (s *MemoryStore) flush() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.sorted(func(*models.Contact) bool { return true }))
}

func (s *MemoryStore) snapshot() (map[int64]*models.Contact, int64) {
	cp := make(map[int64]*models.Contact, len(s.contacts))
	for id, c := range s.contacts {
		cp[id] = c.Clone()
	}
	return cp, s.nextID
}

func (s *MemoryStore) sorted(keep func(*models.Contact) bool) []*models.Contact {
	out := make([]*models.Contact, 0)
	for _, c := range s.contacts {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return models.OlderThan(out[i], out[j]) })
	return out
}

func (s *MemoryStore) findByEmailOrPhone(email, phone *string) []*models.Contact {
	return s.sorted(func(c *models.Contact) bool {
		if !c.Live() {
			return false
		}
		if email != nil && c.Email != nil && *c.Email == *email {
			return true
		}
		return phone != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phone
	})
}

func (s *MemoryStore) findLinked(ids []int64) []*models.Contact {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.sorted(func(c *models.Contact) bool {
		if !c.Live() {
			return false
		}
		if _, ok := set[c.ID]; ok {
			return true
		}
		if c.LinkedID == nil {
			return false
		}
		_, ok := set[*c.LinkedID]
		return ok
	})
}

func (s *MemoryStore) create(nc models.NewContact) (int64, error) {
	if !nc.LinkPrecedence.Valid() {
		return 0, fmt.Errorf("create contact: invalid link precedence %q", nc.LinkPrecedence)
	}
	now := s.now()
	c := &models.Contact{
		ID:             s.nextID,
		Email:          nc.Email,
		PhoneNumber:    nc.PhoneNumber,
		LinkedID:       nc.LinkedID,
		LinkPrecedence: nc.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.contacts[c.ID] = c.Clone()
	s.nextID++
	return c.ID, nil
}

func (s *MemoryStore) toSecondary(id, primaryID int64) {
	c, ok := s.contacts[id]
	if !ok {
		return
	}
	c.LinkPrecedence = models.PrecedenceSecondary
	c.LinkedID = &primaryID
	c.UpdatedAt = s.now()
}

func (s *MemoryStore) relink(oldPrimaryID, newPrimaryID int64) {
	now := s.now()
	for _, c := range s.contacts {
		if c.LinkedID != nil && *c.LinkedID == oldPrimaryID {
			id := newPrimaryID
			c.LinkedID = &id
			c.UpdatedAt = now
		}
	}
}

func (s *MemoryStore) toPrimary(id int64) {
	c, ok := s.contacts[id]
	if !ok {
		return
	}
	c.LinkPrecedence = models.PrecedencePrimary
	c.LinkedID = nil
	c.UpdatedAt = s.now()
}

// memoryTx exposes the store's unlocked operations to a RunInTx body.
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.s.findByEmailOrPhone(email, phone), nil
}

func (t *memoryTx) Create(ctx context.Context, c models.NewContact) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.create(c)
}

func (t *memoryTx) FindLinkedContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.s.findLinked(ids), nil
}

func (t *memoryTx) UpdateToSecondary(ctx context.Context, id, primaryID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.s.toSecondary(id, primaryID)
	return nil
}

func (t *memoryTx) UpdateLinkedContacts(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.s.relink(oldPrimaryID, newPrimaryID)
	return nil
}

func (t *memoryTx) UpdateToPrimary(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.s.toPrimary(id)
	return nil
}
