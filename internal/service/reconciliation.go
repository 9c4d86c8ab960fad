package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"identityrecon/internal/events"
	"identityrecon/internal/lock"
	"identityrecon/internal/metrics"
	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

const tracerName = "identityrecon/internal/service"

const defaultPublishTimeout = 2 * time.Second

// ReconciliationService resolves contact identities into clusters
type ReconciliationService struct {
	store       storage.Store
	locker      lock.Locker
	publisher   events.Publisher
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	tracer      trace.Tracer
	maxAttempts int
	timeout     time.Duration

	publishTimeout time.Duration
}

type Option func(*ReconciliationService)

func WithLocker(l lock.Locker) Option {
	return func(s *ReconciliationService) {
		s.locker = l
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *ReconciliationService) {
		s.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReconciliationService) {
		s.metrics = m
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *ReconciliationService) {
		s.log = log
	}
}

// WithMaxAttempts bounds how many times a resolution is re-run after a store conflict.
func WithMaxAttempts(n int) Option {
	return func(s *ReconciliationService) {
		s.maxAttempts = n
	}
}

// WithTimeout applies a deadline to identify calls whose context has none.
func WithTimeout(d time.Duration) Option {
	return func(s *ReconciliationService) {
		s.timeout = d
	}
}

// WithPublishTimeout bounds how long event publishing may take after a commit.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *ReconciliationService) {
		s.publishTimeout = d
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store storage.Store, opts ...Option) (*ReconciliationService, error) {
	if store == nil {
		return nil, errors.New("contact store is required")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &ReconciliationService{
		store:       store,
		locker:      lock.NewLocalLocker(),
		publisher:   events.Nop{},
		log:         discard,
		tracer:      otel.Tracer(tracerName),
		maxAttempts: 3,

		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = defaultPublishTimeout
	}
	s.log = s.log.WithField("component", "reconciliation")
	return s, nil
}

// resolution accumulates the side effects of one attempt. It is discarded when the
// attempt's transaction rolls back.
type resolution struct {
	email, phone *string
	created      []models.LinkPrecedence
	merges       int
	repairs      int
	events       []events.Event
}

// Identify resolves the request into its cluster, creating, merging or repairing
// contacts as needed, and returns the consolidated view.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	start := time.Now()
	resp, err := s.identify(ctx, req)
	s.metrics.ObserveIdentify(outcome(err), time.Since(start))
	return resp, err
}

func (s *ReconciliationService) identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Identify")
	defer span.End()

	email, phone, err := normalizeRequest(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	view, res, err := s.commit(ctx, email, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("primary_id", view.PrimaryContactID),
		attribute.Int("secondaries", len(view.SecondaryContactIDs)),
	)
	s.afterCommit(ctx, res)
	return &models.IdentifyResponse{Contact: *view}, nil
}

// commit holds the identity locks only for the resolution transaction and its retries.
func (s *ReconciliationService) commit(ctx context.Context, email, phone *string) (*models.ContactResponse, *resolution, error) {
	release, err := s.locker.Acquire(ctx, lock.IdentityKeys(email, phone)...)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return nil, nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	defer release()

	for attempt := 1; ; attempt++ {
		res := &resolution{email: email, phone: phone}
		var view *models.ContactResponse
		err = s.store.RunInTx(ctx, func(tx storage.ContactStore) error {
			var rerr error
			view, rerr = s.resolve(ctx, tx, res)
			return rerr
		})
		if err == nil {
			return view, res, nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= s.maxAttempts {
			s.logFailure(err, email, phone)
			if !errors.Is(err, ErrStoreFailure) && !errors.Is(err, ErrInconsistentCluster) {
				err = storeErr("transaction", err)
			}
			return nil, nil, err
		}
		s.metrics.IncRetries()
		s.log.WithError(err).WithField("attempt", attempt).Warn("Resolution conflicted, retrying from a fresh read")
	}
}

// resolve runs one attempt inside a transaction.
func (s *ReconciliationService) resolve(ctx context.Context, tx storage.ContactStore, res *resolution) (*models.ContactResponse, error) {
	matches, err := s.findMatches(ctx, tx, res.email, res.phone)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		contact, err := s.createContact(ctx, tx, res, models.NewContact{
			Email:          res.email,
			PhoneNumber:    res.phone,
			LinkPrecedence: models.PrecedencePrimary,
		})
		if err != nil {
			return nil, err
		}
		return buildView([]*models.Contact{contact})
	}

	cluster, err := s.expandCluster(ctx, tx, matches)
	if err != nil {
		return nil, err
	}

	primary, primaries, err := s.selectPrimary(ctx, tx, res, cluster)
	if err != nil {
		return nil, err
	}

	if len(primaries) > 1 {
		if err := s.reconcilePrecedence(ctx, tx, res, primaries); err != nil {
			return nil, err
		}
	}

	if needsNewContact(cluster, res.email, res.phone) {
		primaryID := primary.ID
		if _, err := s.createContact(ctx, tx, res, models.NewContact{
			Email:          res.email,
			PhoneNumber:    res.phone,
			LinkedID:       &primaryID,
			LinkPrecedence: models.PrecedenceSecondary,
		}); err != nil {
			return nil, err
		}
	}

	final, err := tx.FindLinkedContacts(ctx, []int64{primary.ID})
	if err != nil {
		return nil, storeErr("find linked contacts", err)
	}
	return buildView(final)
}

func (s *ReconciliationService) createContact(ctx context.Context, tx storage.ContactStore, res *resolution, nc models.NewContact) (*models.Contact, error) {
	id, err := tx.Create(ctx, nc)
	if err != nil {
		return nil, storeErr("create contact", err)
	}

	data := map[string]any{
		"contact_id":      id,
		"link_precedence": string(nc.LinkPrecedence),
	}
	if nc.LinkedID != nil {
		data["linked_id"] = *nc.LinkedID
	}
	res.created = append(res.created, nc.LinkPrecedence)
	res.events = append(res.events, events.New(events.TypeContactCreated, data))

	return &models.Contact{
		ID:             id,
		Email:          nc.Email,
		PhoneNumber:    nc.PhoneNumber,
		LinkedID:       nc.LinkedID,
		LinkPrecedence: nc.LinkPrecedence,
	}, nil
}

// afterCommit records metrics and publishes events for a committed resolution.
// It runs after the identity locks are released. Publishing is detached from the caller's
// cancellation but bounded by publishTimeout; failures are logged since the contacts are
// already durable.
func (s *ReconciliationService) afterCommit(ctx context.Context, res *resolution) {
	for _, p := range res.created {
		s.metrics.IncContactsCreated(string(p))
	}
	s.metrics.AddMerges(res.merges)
	for n := 0; n < res.repairs; n++ {
		s.metrics.IncRepairs()
	}

	if len(res.events) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, res.events...); err != nil {
		s.log.WithError(err).WithField("events", len(res.events)).Error("Failed to publish identity events")
	}
}

func (s *ReconciliationService) logFailure(err error, email, phone *string) {
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"has_email": email != nil,
		"has_phone": phone != nil,
	})
	if errors.Is(err, ErrInconsistentCluster) {
		entry.Error("Cluster has no single canonical primary")
		return
	}
	entry.Error("Identify failed")
}

// Cluster returns the consolidated view of the cluster that contains contactID.
// It never writes; a cluster needing repair reports ErrInconsistentCluster.
func (s *ReconciliationService) Cluster(ctx context.Context, contactID int64) (*models.ContactResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Cluster")
	defer span.End()

	linked, err := s.store.FindLinkedContacts(ctx, []int64{contactID})
	if err != nil {
		return nil, storeErr("find linked contacts", err)
	}

	var self *models.Contact
	for _, c := range linked {
		if c.ID == contactID {
			self = c
			break
		}
	}
	if self == nil {
		return nil, fmt.Errorf("%w: %d", ErrContactNotFound, contactID)
	}

	cluster, err := s.expandCluster(ctx, s.store, []*models.Contact{self})
	if err != nil {
		return nil, err
	}
	return buildView(cluster)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrInvalidRequest):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrBusy):
		return metrics.OutcomeLockTimeout
	case errors.Is(err, ErrInconsistentCluster):
		return metrics.OutcomeInconsistent
	default:
		return metrics.OutcomeError
	}
}
