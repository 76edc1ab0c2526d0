// Package app wires the configuration into a running dispatch service.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fieldops/rove/config"
	"github.com/fieldops/rove/core/dispatch"
	coremetrics "github.com/fieldops/rove/core/metrics"
	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/core/spawns"
	"github.com/fieldops/rove/infra/logger"
	"github.com/fieldops/rove/infra/metrics"
	"github.com/fieldops/rove/infra/mqtt"
	"github.com/fieldops/rove/infra/queue"
	"github.com/fieldops/rove/infra/store"
	"github.com/fieldops/rove/internal/eventbus"
	"github.com/fieldops/rove/simulator"
)

// Service orchestrates the dispatch manager, the credential rotator and the
// observability surfaces.
type Service struct {
	Manager *dispatch.Manager

	cfg          *config.Config
	log          logger.Logger
	store        *store.SQLiteStore
	snap         *store.Snapshot
	available    *queue.AccountQueue
	verification *queue.AccountQueue
	sessions     []*simulator.Session
	rotator      *dispatch.CredentialRotator
	stats        *dispatch.StatsAggregator
	bus          *eventbus.Bus
	publisher    *mqtt.StatusPublisher
	sink         coremetrics.Sink
	closers      []func()
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.Logging.Apply(); err != nil {
		return nil, err
	}
	log := logger.New("service")

	db, err := store.OpenSQLite(cfg.Storage, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	snap, err := store.NewSnapshot(cfg.Storage.SnapshotDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	source, err := spawns.New(db, snap, logger.New("spawns"))
	if err != nil {
		db.Close()
		return nil, err
	}

	available, verification := queue.New(), queue.New()
	if err := seedQueues(cfg.AccountsPath, snap, available, verification, log); err != nil {
		db.Close()
		return nil, err
	}

	workers, sessions, err := simulator.NewFleet(
		cfg.Fleet.Simulator,
		cfg.Fleet.GridRows, cfg.Fleet.GridCols,
		cfg.Fleet.Bounds,
		cfg.Fleet.ScanDelaySeconds,
		available,
		logger.New("fleet"),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	selector, err := dispatch.NewSelector(workers, cfg.Dispatch)
	if err != nil {
		db.Close()
		return nil, err
	}
	gate, err := dispatch.NewAdmissionGate(cfg.Dispatch.ConcurrencyLimit)
	if err != nil {
		db.Close()
		return nil, err
	}
	bus := eventbus.New()
	rotator, err := dispatch.NewCredentialRotator(available, verification, workers, cfg.Dispatch, logger.New("rotator"), bus)
	if err != nil {
		db.Close()
		return nil, err
	}

	svc := &Service{
		cfg:          cfg,
		log:          log,
		store:        db,
		snap:         snap,
		available:    available,
		verification: verification,
		sessions:     sessions,
		rotator:      rotator,
		bus:          bus,
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics)
		if closer, ok := sink.(*metrics.InfluxSink); ok {
			svc.closers = append(svc.closers, closer.Close)
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		svc.sink = coremetrics.NopSink{}
	case 1:
		svc.sink = sinks[0]
	default:
		svc.sink = metrics.NewMultiSink(sinks...)
	}

	manager, err := dispatch.New(dispatch.Deps{
		Source:    source,
		Sightings: db,
		Workers:   workers,
		Selector:  selector,
		Gate:      gate,
		Rotator:   rotator,
		Logger:    logger.New("dispatch"),
		Sink:      svc.sink,
		Bus:       bus,
		Snapshot:  svc.snapshotAccounts,
		Bounds:    cfg.Fleet.Bounds,
		GridRows:  cfg.Fleet.GridRows,
		GridCols:  cfg.Fleet.GridCols,
	}, cfg.Dispatch)
	if err != nil {
		db.Close()
		return nil, err
	}
	svc.Manager = manager
	svc.stats = dispatch.NewStatsAggregator(manager, available, verification, logger.New("stats"))

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewStatusPublisher(cfg.MQTT, bus)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		svc.publisher = pub
	}
	return svc, nil
}

// Run starts the service and blocks until the dispatch loop ends. In-flight
// visits are drained before returning.
func (s *Service) Run(ctx context.Context, forceBootstrap, fromSnapshot bool) error {
	go s.rotator.Run(ctx)
	go s.stats.Run(ctx)
	go s.recordSightings(ctx)
	go s.reportQueueDepths(ctx)
	if s.publisher != nil {
		go s.publisher.Run(ctx)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	err := s.Manager.Run(ctx, forceBootstrap, fromSnapshot)
	s.Manager.Drain()
	if err != nil && ctx.Err() != nil {
		// Cancellation is the normal shutdown path.
		return nil
	}
	return err
}

// recordSightings persists every successful visit of an identified spawn.
func (s *Service) recordSightings(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			visit, ok := ev.(eventbus.VisitEvent)
			if !ok || !visit.Found || visit.SpawnID == "" {
				continue
			}
			if err := s.store.RecordSighting(ctx, visit.SpawnID, visit.Point, time.Now()); err != nil {
				s.log.Errorf("record sighting %s: %v", visit.SpawnID, err)
			}
		}
	}
}

func (s *Service) reportQueueDepths(ctx context.Context) {
	rec, ok := s.sink.(coremetrics.QueueDepthRecorder)
	if !ok {
		return
	}
	interval := time.Duration(s.cfg.Dispatch.StatsIntervalSeconds) * time.Second
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := rec.RecordQueueDepths(s.available.Size(), s.verification.Size()); err != nil {
				s.log.Errorf("queue depths: %v", err)
			}
		}
	}
}

// snapshotAccounts writes the full account set, queued and in-session, to the
// snapshot file.
func (s *Service) snapshotAccounts(context.Context) error {
	accounts := s.available.List()
	accounts = append(accounts, s.verification.List()...)
	for _, sess := range s.sessions {
		accounts = append(accounts, sess.Account())
	}
	return s.snap.SaveAccounts(accounts)
}

// Close persists the account snapshot and releases held resources.
func (s *Service) Close() error {
	if err := s.snapshotAccounts(context.Background()); err != nil {
		s.log.Errorf("final account snapshot: %v", err)
	}
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	for _, closer := range s.closers {
		closer()
	}
	s.bus.Close()
	return s.store.Close()
}

// seedQueues loads accounts from the configured path, falling back to the
// snapshot from a previous run. Banned accounts are dropped, verification-
// flagged ones go to the verification queue.
func seedQueues(path string, snap *store.Snapshot, available, verification *queue.AccountQueue, log logger.Logger) error {
	accounts, err := readAccounts(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read accounts: %w", err)
		}
		accounts, err = snap.LoadAccounts()
		if err != nil {
			return fmt.Errorf("no accounts at %s and no snapshot: %w", path, err)
		}
		log.Warnf("accounts file %s missing, restored %d from snapshot", path, len(accounts))
	}
	var banned int
	for _, a := range accounts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("account %q: %w", a.Username, err)
		}
		switch {
		case a.Banned:
			banned++
		case a.NeedsVerification:
			verification.Push(a)
		default:
			available.Push(a)
		}
	}
	log.Infof("seeded queues: %d available, %d verification, %d banned dropped",
		available.Size(), verification.Size(), banned)
	return nil
}

func readAccounts(path string) ([]model.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var accounts []model.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return accounts, nil
}
