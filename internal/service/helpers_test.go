package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"identityrecon/internal/events"
	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tickClock hands out strictly increasing timestamps one second apart.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock(start time.Time) *tickClock {
	return &tickClock{t: start}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func idPtr(id int64) *int64 {
	return &id
}

func request(email, phone string) models.IdentifyRequest {
	return models.IdentifyRequest{Email: ptr(email), PhoneNumber: ptr(phone)}
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// blockingPublisher holds every Publish until its context ends.
type blockingPublisher struct {
	started chan struct{}
	errs    chan error
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{started: make(chan struct{}, 8), errs: make(chan error, 8)}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ ...events.Event) error {
	p.started <- struct{}{}
	<-ctx.Done()
	p.errs <- ctx.Err()
	return ctx.Err()
}

func (p *blockingPublisher) Close() error { return nil }

// countingStore counts every call that reaches the store.
type countingStore struct {
	storage.Store
	calls atomic.Int64
	txs   atomic.Int64
}

func (s *countingStore) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	s.calls.Add(1)
	return s.Store.FindByEmailOrPhone(ctx, email, phone)
}

func (s *countingStore) FindLinkedContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	s.calls.Add(1)
	return s.Store.FindLinkedContacts(ctx, ids)
}

func (s *countingStore) RunInTx(ctx context.Context, fn func(tx storage.ContactStore) error) error {
	s.calls.Add(1)
	s.txs.Add(1)
	return s.Store.RunInTx(ctx, fn)
}

var errInjected = errors.New("injected failure")

// faultyStore fails the named operation inside transactions.
// conflicts makes the first N transactions fail with storage.ErrConflict instead.
type faultyStore struct {
	storage.Store
	failOp    string
	conflicts int64
	txs       atomic.Int64
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(tx storage.ContactStore) error) error {
	n := s.txs.Add(1)
	return s.Store.RunInTx(ctx, func(tx storage.ContactStore) error {
		if n <= s.conflicts {
			return fmt.Errorf("commit transaction: %w", storage.ErrConflict)
		}
		return fn(&faultyTx{ContactStore: tx, failOp: s.failOp})
	})
}

type faultyTx struct {
	storage.ContactStore
	failOp string
}

func (t *faultyTx) fail(op string) error {
	if t.failOp == op {
		return errInjected
	}
	return nil
}

func (t *faultyTx) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	if err := t.fail("find"); err != nil {
		return nil, err
	}
	return t.ContactStore.FindByEmailOrPhone(ctx, email, phone)
}

func (t *faultyTx) Create(ctx context.Context, c models.NewContact) (int64, error) {
	if err := t.fail("create"); err != nil {
		return 0, err
	}
	return t.ContactStore.Create(ctx, c)
}

func (t *faultyTx) UpdateToSecondary(ctx context.Context, id, primaryID int64) error {
	if err := t.fail("to_secondary"); err != nil {
		return err
	}
	return t.ContactStore.UpdateToSecondary(ctx, id, primaryID)
}

func (t *faultyTx) UpdateLinkedContacts(ctx context.Context, oldID, newID int64) error {
	if err := t.fail("relink"); err != nil {
		return err
	}
	return t.ContactStore.UpdateLinkedContacts(ctx, oldID, newID)
}
