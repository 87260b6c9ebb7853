package discovery

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/gokit-discovery/errors"
	"github.com/kbukum/gokit-discovery/logger"
	"github.com/kbukum/gokit-discovery/observability"
)

// ReregistrationPredicate decides whether a failed heartbeat may be recovered
// by registering the instance again.
type ReregistrationPredicate func(err error) bool

// AlwaysEligible treats every catalog operation error as recoverable.
func AlwaysEligible(error) bool { return true }

type heartbeatHandle struct {
	stop   chan struct{}
	ticker Ticker
	// resubmit is held while a failed tick registers the instance again.
	// Disarm waits on it so a deregistration cannot be overtaken.
	resubmit sync.Mutex
}

func (h *heartbeatHandle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// HeartbeatScheduler keeps TTL checks passing with one ticker per instance.
type HeartbeatScheduler struct {
	catalog  CatalogClient
	cfg      HeartbeatConfig
	token    string
	clock    Clock
	eligible ReregistrationPredicate
	log      *logger.Logger
	metrics  *observability.DiscoveryMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*heartbeatHandle
	cache   map[string]*ServiceDescriptor
	closed  bool
}

// SchedulerOption configures a HeartbeatScheduler.
type SchedulerOption func(*HeartbeatScheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) SchedulerOption {
	return func(s *HeartbeatScheduler) { s.clock = c }
}

// WithReregistrationPredicate replaces AlwaysEligible.
func WithReregistrationPredicate(p ReregistrationPredicate) SchedulerOption {
	return func(s *HeartbeatScheduler) { s.eligible = p }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(s *HeartbeatScheduler) { s.log = l }
}

// WithMetrics records heartbeat and re-registration outcomes on m.
func WithMetrics(m *observability.DiscoveryMetrics) SchedulerOption {
	return func(s *HeartbeatScheduler) { s.metrics = m }
}

// NewHeartbeatScheduler creates a scheduler. token is used when an instance
// has to be registered again.
func NewHeartbeatScheduler(catalog CatalogClient, cfg HeartbeatConfig, token string, opts ...SchedulerOption) *HeartbeatScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &HeartbeatScheduler{
		catalog:  catalog,
		cfg:      cfg,
		token:    token,
		clock:    realClock{},
		eligible: AlwaysEligible,
		log:      logger.WithComponent("heartbeat"),
		ctx:      ctx,
		cancel:   cancel,
		handles:  make(map[string]*heartbeatHandle),
		cache:    make(map[string]*ServiceDescriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm starts ticking for instanceID every interval, replacing any timer
// already armed for it. The replaced timer does not fire after Arm returns.
func (s *HeartbeatScheduler) Arm(instanceID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(instanceID, interval)
}

// Track arms instanceID and remembers desc for re-registration.
func (s *HeartbeatScheduler) Track(desc *ServiceDescriptor, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armLocked(desc.ID, interval) {
		s.cache[desc.ID] = desc.Clone()
	}
}

func (s *HeartbeatScheduler) armLocked(instanceID string, interval time.Duration) bool {
	if s.closed {
		s.log.Warn("heartbeat scheduler closed, not arming", logger.Fields(logger.FieldInstanceID, instanceID))
		return false
	}
	if old, ok := s.handles[instanceID]; ok {
		old.ticker.Stop()
		close(old.stop)
	} else {
		s.metrics.TimerArmed(s.ctx, 1)
	}

	h := &heartbeatHandle{
		stop:   make(chan struct{}),
		ticker: s.clock.NewTicker(interval),
	}
	s.handles[instanceID] = h

	s.wg.Add(1)
	go s.run(instanceID, h)

	s.log.Debug("heartbeat armed", logger.Fields(
		logger.FieldInstanceID, instanceID,
		logger.FieldInterval, interval.String(),
	))
	return true
}

// Disarm stops the timer for instanceID and forgets its descriptor. It
// returns once no re-registration of the instance is in flight. Unknown ids
// are ignored.
func (s *HeartbeatScheduler) Disarm(instanceID string) {
	s.mu.Lock()
	h, ok := s.handles[instanceID]
	if ok {
		h.ticker.Stop()
		close(h.stop)
		delete(s.handles, instanceID)
		s.metrics.TimerArmed(s.ctx, -1)
	}
	delete(s.cache, instanceID)
	s.mu.Unlock()

	if ok {
		h.resubmit.Lock()
		h.resubmit.Unlock() //nolint:staticcheck // waits for an in-flight re-registration
	}
}

// Armed reports whether a timer is live for instanceID.
func (s *HeartbeatScheduler) Armed(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[instanceID]
	return ok
}

// Registered returns a copy of the cached descriptor for instanceID.
func (s *HeartbeatScheduler) Registered(instanceID string) (*ServiceDescriptor, bool) {
	desc, _ := s.tracked(instanceID)
	return desc, desc != nil
}

// tracked returns the cached descriptor and the live handle of instanceID.
func (s *HeartbeatScheduler) tracked(instanceID string) (*ServiceDescriptor, *heartbeatHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, ok := s.cache[instanceID]
	if !ok {
		return nil, nil
	}
	return desc.Clone(), s.handles[instanceID]
}

// run sends the first pass right away, then one per tick. A TTL check
// starts critical, so waiting a full interval would hide a fresh instance.
func (s *HeartbeatScheduler) run(instanceID string, h *heartbeatHandle) {
	defer s.wg.Done()
	if h.stopped() {
		return
	}
	s.beat(instanceID)
	for {
		select {
		case <-h.stop:
			return
		case <-s.ctx.Done():
			return
		case <-h.ticker.C():
			// A tick may race with a stop; the stop wins.
			if h.stopped() {
				return
			}
			s.beat(instanceID)
		}
	}
}

func (s *HeartbeatScheduler) beat(instanceID string) {
	if err := s.Tick(s.ctx, instanceID); err != nil {
		s.log.Warn("heartbeat failed", logger.MergeWithError(logger.Fields(
			logger.FieldInstanceID, instanceID,
			logger.FieldCheckID, CheckIDFor(instanceID),
		), err))
	}
}

// Tick marks the instance's TTL check passing. A failure the catalog answered
// with is recovered by registering the cached descriptor again when allowed.
func (s *HeartbeatScheduler) Tick(ctx context.Context, instanceID string) (err error) {
	checkID := CheckIDFor(instanceID)
	ctx, span := observability.StartSpan(ctx, observability.SpanHeartbeatTick,
		attribute.String(observability.AttrInstanceID, instanceID))
	defer func() { observability.EndSpan(span, err) }()

	passErr := s.catalog.CheckPass(ctx, checkID)
	s.metrics.RecordHeartbeat(ctx, instanceID, passErr)
	if passErr == nil {
		return nil
	}

	if !errors.IsCatalogOperationError(passErr) || !s.cfg.ReregisterServiceOnFailure || !s.eligible(passErr) {
		return passErr
	}

	desc, h := s.tracked(instanceID)
	if desc == nil {
		s.log.Warn("heartbeat failed and no registration is cached", logger.MergeWithError(logger.Fields(
			logger.FieldInstanceID, instanceID,
			logger.FieldCheckID, checkID,
		), passErr))
		return nil
	}
	if h != nil {
		h.resubmit.Lock()
		defer h.resubmit.Unlock()
		if h.stopped() {
			s.log.Debug("instance disarmed, skipping re-registration", logger.Fields(logger.FieldInstanceID, instanceID))
			return nil
		}
	}

	s.log.Info("re-registering after failed heartbeat", logger.MergeWithError(logger.Fields(
		logger.FieldInstanceID, instanceID,
		logger.FieldService, desc.Name,
	), passErr))
	span.SetAttributes(attribute.Bool(observability.AttrReregistered, true))
	err = s.catalog.RegisterService(ctx, desc, s.token)
	s.metrics.RecordReregistration(ctx, instanceID, err)
	return err
}

// Close stops every timer and waits for in-flight ticks to finish.
func (s *HeartbeatScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, h := range s.handles {
		h.ticker.Stop()
		close(h.stop)
		delete(s.handles, id)
		s.metrics.TimerArmed(s.ctx, -1)
	}
	clear(s.cache)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
