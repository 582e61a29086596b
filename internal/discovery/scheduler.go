// Package discovery implements the Discovery Scheduler (C3, spec §4.2/§5):
// a cron-driven poll loop that enumerates monitoring-enabled connections,
// pulls each one's top-query sample through its gateway, and folds the
// result into the Observability Store — backing off to a DEGRADED
// WorkloadSample when a connection's performance view is unavailable or
// the worker pool is falling behind.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/normalize"
	"github.com/sqlopt/engine/internal/store"
)

// Store is the subset of *store.Store the scheduler depends on.
type Store interface {
	ListConnections(ctx context.Context) ([]*model.Connection, error)
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	UpsertQuery(ctx context.Context, connectionID int64, fingerprint, normalizedSQL string, sample model.RawSample) (*model.DiscoveredQuery, error)
	RecordWorkloadSample(ctx context.Context, sample *model.WorkloadSample) error
}

var _ Store = (*store.Store)(nil)

// Scheduler is the concrete C3 implementation: one cron-scheduled tick
// enqueues a PollJob per monitored connection, a fixed pool of worker
// goroutines drains the bounded queue (spec §5 "scheduler fiber" /
// "worker fibers").
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	gateways map[model.Engine]gateway.Gateway
	cfg      *config.DiscoveryConfig
	log      logger.Logger

	queue *queue

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once

	statusMu        sync.Mutex
	running         bool
	lastPoll        time.Time
	queriesLifetime int64
}

// New builds a Scheduler. Workers are not started until Start is called.
func New(st Store, gateways map[model.Engine]gateway.Gateway, cfg *config.DiscoveryConfig, log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		store:    st,
		gateways: gateways,
		cfg:      cfg,
		log:      log.WithField("component", "discovery"),
		queue:    newQueue(cfg.QueueSize),
		stop:     make(chan struct{}),
	}
}

// Start launches the worker pool and schedules the recurring poll tick.
// It returns once the cron entry is registered; polling itself runs in the
// background until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx)
	}

	spec := "@every " + time.Duration(s.cfg.IntervalSeconds*int(time.Second)).String()
	_, err := s.cron.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return apperrors.NewInput("invalid discovery poll interval: %v", err)
	}
	s.cron.Start()

	s.statusMu.Lock()
	s.running = true
	s.statusMu.Unlock()
	return nil
}

// Stop halts the cron entry, closes the queue, and waits for in-flight
// workers to drain.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		s.cron.Stop()
		close(s.stop)
		s.queue.close()
		s.wg.Wait()

		s.statusMu.Lock()
		s.running = false
		s.statusMu.Unlock()
	})
}

// Running reports whether Start has been called and Stop has not.
func (s *Scheduler) Running() bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.running
}

// LastPollTime returns the UTC time the scheduler fiber last woke up,
// the zero time if it has never ticked.
func (s *Scheduler) LastPollTime() time.Time {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastPoll
}

// NextPollTime projects LastPollTime forward by the configured interval.
// It is a projection, not a guarantee: a slow tick or a stopped scheduler
// can make the actual next poll arrive later than this.
func (s *Scheduler) NextPollTime() time.Time {
	s.statusMu.Lock()
	last := s.lastPoll
	s.statusMu.Unlock()
	if last.IsZero() {
		return time.Time{}
	}
	return last.Add(time.Duration(s.cfg.IntervalSeconds) * time.Second)
}

// QueriesDiscoveredLifetime returns the running count of samples
// successfully folded into the store since this Scheduler was constructed
// (spec §6.1 "Monitoring.status").
func (s *Scheduler) QueriesDiscoveredLifetime() int64 {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.queriesLifetime
}

// ActiveConnections reports how many connections currently have a poll job
// in flight.
func (s *Scheduler) ActiveConnections() int {
	return s.queue.inFlightCount()
}

// TriggerConnection runs one poll for connectionID synchronously,
// bypassing the queue's backpressure and single-in-flight guarantee since
// an explicit trigger is an operator request, not a scheduled tick (spec
// §6.1 "Monitoring.trigger(connection_id?)").
func (s *Scheduler) TriggerConnection(ctx context.Context, connectionID int64) error {
	s.runJob(ctx, &PollJob{ConnectionID: connectionID})
	return nil
}

// TriggerAll runs one poll for every monitoring-enabled connection,
// synchronously and sequentially.
func (s *Scheduler) TriggerAll(ctx context.Context) error {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if !conn.MonitoringEnabled || conn.IsDeleted() {
			continue
		}
		s.runJob(ctx, &PollJob{ConnectionID: conn.ID})
	}
	return nil
}

// tick is the scheduler fiber's periodic wake-up: enumerate
// monitoring-enabled connections and enqueue a PollJob for each, dropping
// (with a DEGRADED workload sample) any connection whose prior job is
// still in flight or whose enqueue would block the bounded queue.
func (s *Scheduler) tick(ctx context.Context) {
	s.statusMu.Lock()
	s.lastPoll = time.Now().UTC()
	s.statusMu.Unlock()

	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		s.log.WithField("error", err.Error()).Error("failed to list connections for discovery poll")
		return
	}
	for _, conn := range conns {
		if !conn.MonitoringEnabled || conn.IsDeleted() {
			continue
		}
		if !s.queue.tryEnqueue(conn.ID) {
			s.log.WithField("connection_id", conn.ID).
				Warn("discovery queue backpressure, recording degraded sample instead of polling")
			s.recordDegraded(ctx, conn.ID)
		}
	}
}

// runWorker drains the bounded queue until it is closed, running each
// PollJob to completion on its own gateway session (spec §5 "each job owns
// one gateway session and runs to completion").
func (s *Scheduler) runWorker(ctx context.Context) {
	defer s.wg.Done()
	for job := range s.queue.jobs {
		s.runJob(ctx, job)
		s.queue.release(job.ConnectionID)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *PollJob) {
	conn, err := s.store.GetConnection(ctx, job.ConnectionID)
	if err != nil {
		s.log.WithField("connection_id", job.ConnectionID).WithField("error", err.Error()).
			Error("discovery job could not resolve connection")
		return
	}
	gw, ok := s.gateways[conn.Engine]
	if !ok {
		s.log.WithField("connection_id", conn.ID).WithField("engine", conn.Engine).
			Error("no gateway registered for connection's engine")
		return
	}

	samples, err := gw.TopQueries(ctx, conn.ID, s.cfg.MaxQueriesPerPoll)
	if err != nil {
		if apperrors.Is(err, apperrors.Capability) {
			s.log.WithField("connection_id", conn.ID).
				Warn("performance view unavailable, recording degraded sample")
			s.recordDegraded(ctx, conn.ID)
			return
		}
		s.log.WithField("connection_id", conn.ID).WithField("error", err.Error()).
			Error("failed to pull top queries")
		return
	}

	s.ingest(ctx, conn.ID, samples)
}

// ingest upserts every sample's DiscoveredQuery row (serialized per spec
// §5 "within a single discovery poll for one connection, writes to
// DiscoveredQuery are serialized" — runJob already owns the only writer
// for this connection this tick) and rolls the batch up into one
// WorkloadSample bucket.
func (s *Scheduler) ingest(ctx context.Context, connectionID int64, samples []model.RawSample) {
	var totalQueries, slowQueries int64
	var totalExecMs float64
	var ingested int64

	for _, sample := range samples {
		normalized := normalize.Normalize(sample.SQL)
		fingerprint := normalize.Fingerprint(normalized)
		if _, err := s.store.UpsertQuery(ctx, connectionID, fingerprint, normalized, sample); err != nil {
			s.log.WithField("connection_id", connectionID).WithField("error", err.Error()).
				Error("failed to upsert discovered query")
			continue
		}
		ingested++

		totalQueries += sample.Calls
		totalExecMs += sample.TotalExecMs
		if sample.Calls > 0 && sample.TotalExecMs/float64(sample.Calls) >= model.SlowQueryThresholdMs {
			slowQueries += sample.Calls
		}
	}

	if ingested > 0 {
		s.statusMu.Lock()
		s.queriesLifetime += ingested
		s.statusMu.Unlock()
	}

	meanExecMs := 0.0
	if totalQueries > 0 {
		meanExecMs = totalExecMs / float64(totalQueries)
	}

	err := s.store.RecordWorkloadSample(ctx, &model.WorkloadSample{
		ConnectionID:  connectionID,
		BucketStart:   time.Now().UTC().Truncate(time.Hour),
		TotalQueries:  totalQueries,
		SlowQueries:   slowQueries,
		MeanExecMs:    meanExecMs,
		WorkloadClass: model.ClassifyWorkload(totalQueries, meanExecMs),
		Degraded:      false,
	})
	if err != nil {
		s.log.WithField("connection_id", connectionID).WithField("error", err.Error()).
			Error("failed to record workload sample")
	}
}

func (s *Scheduler) recordDegraded(ctx context.Context, connectionID int64) {
	err := s.store.RecordWorkloadSample(ctx, &model.WorkloadSample{
		ConnectionID: connectionID,
		BucketStart:  time.Now().UTC().Truncate(time.Hour),
		Degraded:     true,
	})
	if err != nil {
		s.log.WithField("connection_id", connectionID).WithField("error", err.Error()).
			Error("failed to record degraded workload sample")
	}
}

