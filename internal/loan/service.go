package loan

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"loanflow/internal/flow"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Service owns the flows and the live sessions, and exposes the back-office
// reads over stored applications.
type Service struct {
	flows       *flow.Registry
	staging     StagingFactory
	provider    IdentityProvider
	docs        DocumentStore
	coordinator *Coordinator
	clock       Clock
	idgen       IDGenerator
	logger      Logger
	metrics     Metrics

	sessions *gocache.Cache
	ttl      time.Duration
}

// NewService creates a Service. Sessions idle for longer than ttl are
// closed; a non-positive ttl uses DefaultSessionTTL.
func NewService(flows *flow.Registry, staging StagingFactory, provider IdentityProvider, docs DocumentStore, coordinator *Coordinator, clock Clock, idgen IDGenerator, logger Logger, metrics Metrics, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	s := &Service{
		flows:       flows,
		staging:     staging,
		provider:    provider,
		docs:        docs,
		coordinator: coordinator,
		clock:       clock,
		idgen:       idgen,
		logger:      logger,
		metrics:     metrics,
		sessions:    gocache.New(ttl, ttl/2),
		ttl:         ttl,
	}
	s.sessions.OnEvicted(func(id string, v any) {
		if sess, ok := v.(*Session); ok {
			if err := sess.Close(); err != nil {
				s.logger.Warn("closing evicted session", "session", id, "error", err)
			}
			s.logger.Debug("session closed", "session", id)
		}
	})
	return s
}

// Flows returns the flow registry.
func (s *Service) Flows() *flow.Registry { return s.flows }

// Create starts a session on the flow of the given kind.
func (s *Service) Create(kind string) (*Session, error) {
	f, ok := s.flows.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, kind)
	}

	id := s.idgen.New()
	files, err := s.staging.NewArea(id, SlotLimits(f.SlotLimits()))
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	gate := NewAuthGate(s.provider, s.docs, f.PhoneCheck, "recaptcha-"+id, s.clock, s.logger, s.metrics)
	sess := newSession(id, f, files, gate, s.coordinator, s.clock, s.logger, s.metrics)

	s.sessions.Set(id, sess, gocache.DefaultExpiration)
	s.metrics.SessionStarted(f.Kind)
	s.metrics.StepEntered(f.Kind, f.Step(1).ID)
	s.logger.Info("session started", "session", id, "flow", f.Kind)
	return sess, nil
}

// Get returns a live session and extends its lifetime.
func (s *Service) Get(id string) (*Session, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := v.(*Session)
	s.sessions.Set(id, sess, gocache.DefaultExpiration)
	return sess, nil
}

// Close ends a session. Closing an unknown session is not an error.
func (s *Service) Close(id string) {
	s.sessions.Delete(id)
}

// Shutdown closes every live session.
func (s *Service) Shutdown() {
	for id := range s.sessions.Items() {
		s.sessions.Delete(id)
	}
}

// Count returns the number of live sessions.
func (s *Service) Count() int { return s.sessions.ItemCount() }

// ListApplications returns stored applications of a flow with the given
// status, newest first.
func (s *Service) ListApplications(ctx context.Context, kind, status string, limit int) ([]*SubmittedRecord, error) {
	f, err := s.applicationFlow(kind)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.Query(ctx, f.Collection, keyStatus, status, limit)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", f.Collection, err)
	}
	out := make([]*SubmittedRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, RecordFromDocument(d))
	}
	return out, nil
}

// GetApplication returns one stored application, or nil if it does not
// exist.
func (s *Service) GetApplication(ctx context.Context, kind, id string) (*SubmittedRecord, error) {
	f, err := s.applicationFlow(kind)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.Get(ctx, f.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("loading application: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	return RecordFromDocument(doc), nil
}

// DeleteApplication removes an application and its documents.
func (s *Service) DeleteApplication(ctx context.Context, kind, id string) error {
	f, err := s.applicationFlow(kind)
	if err != nil {
		return err
	}
	return s.coordinator.Withdraw(ctx, f, id)
}

func (s *Service) applicationFlow(kind string) (*flow.Flow, error) {
	f, ok := s.flows.Lookup(kind)
	if !ok || f.Target != flow.TargetApplication || f.Collection == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, kind)
	}
	return f, nil
}
