// Package simulator provides a Visitor implementation that mimics the timing
// and failure behaviour of real field-agent protocol sessions, so the dispatch
// core can be exercised without any external service.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/rove/core/dispatch"
	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/logger"
	"github.com/fieldops/rove/core/model"
)

// Config holds parameters for the simulated sessions.
type Config struct {
	// FailureRate is the probability a visit fails with a transient error.
	FailureRate float64 `json:"failure_rate"`
	// VerificationRate is the probability a failed visit also flags the
	// active account for verification.
	VerificationRate float64 `json:"verification_rate"`
	// BanRate is the probability a verification-flagged account is banned
	// outright instead.
	BanRate    float64 `json:"ban_rate"`
	VisitMinMS int     `json:"visit_min_ms"`
	VisitMaxMS int     `json:"visit_max_ms"`
	// SeenMax bounds the number of sightings reported by a successful visit.
	SeenMax int   `json:"seen_max"`
	Seed    int64 `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.VisitMinMS <= 0 {
		c.VisitMinMS = 400
	}
	if c.VisitMaxMS <= c.VisitMinMS {
		c.VisitMaxMS = c.VisitMinMS + 1200
	}
	if c.SeenMax <= 0 {
		c.SeenMax = 9
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Session simulates one worker slot's protocol session.
type Session struct {
	cfg Config

	mu        sync.Mutex
	rng       *rand.Rand
	account   model.Account
	sessionID string
	status    string
	errCode   string
}

// NewSession creates a session bound to the given account.
func NewSession(cfg Config, account model.Account, seed int64) *Session {
	return &Session{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		account:   account,
		sessionID: uuid.NewString(),
		status:    "IDLE",
	}
}

// Visit implements dispatch.Visitor.
func (s *Session) Visit(ctx context.Context, p model.Point, spawnID string) (dispatch.VisitOutcome, error) {
	return s.visit(ctx, p, "VISITING")
}

// BootstrapVisit implements dispatch.Visitor.
func (s *Session) BootstrapVisit(ctx context.Context, p model.Point) (dispatch.VisitOutcome, error) {
	return s.visit(ctx, p, "BOOTSTRAPPING")
}

func (s *Session) visit(ctx context.Context, p model.Point, phase string) (dispatch.VisitOutcome, error) {
	s.mu.Lock()
	s.status = phase
	latency := time.Duration(s.cfg.VisitMinMS+s.rng.Intn(s.cfg.VisitMaxMS-s.cfg.VisitMinMS)) * time.Millisecond
	fail := s.rng.Float64() < s.cfg.FailureRate
	verify := fail && s.rng.Float64() < s.cfg.VerificationRate
	ban := verify && s.rng.Float64() < s.cfg.BanRate
	seen := 1 + s.rng.Intn(s.cfg.SeenMax)
	s.mu.Unlock()

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.setState("IDLE", "")
		return dispatch.VisitOutcome{}, ctx.Err()
	case <-timer.C:
	}

	if fail {
		code := "TIMEOUT"
		if verify {
			code = "VERIFICATION"
			s.mu.Lock()
			s.account.NeedsVerification = true
			s.account.Banned = ban
			s.mu.Unlock()
		}
		s.setState("IDLE", code)
		return dispatch.VisitOutcome{}, fmt.Errorf("session %s: visit (%.5f, %.5f) failed: %s", s.shortID(), p.Lat, p.Lon, code)
	}
	s.setState("IDLE", "")
	return dispatch.VisitOutcome{Found: true, Seen: seen}, nil
}

// SwapAccount implements dispatch.Visitor. The session restarts under the
// fresh credential and hands back the one it was using.
func (s *Session) SwapAccount(ctx context.Context, fresh model.Account) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.account
	s.account = fresh
	s.sessionID = uuid.NewString()
	s.errCode = ""
	return old, nil
}

// Account returns the credential currently bound to the session.
func (s *Session) Account() model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Status implements dispatch.Visitor.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrorCode implements dispatch.Visitor.
func (s *Session) ErrorCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCode
}

func (s *Session) setState(status, errCode string) {
	s.mu.Lock()
	s.status = status
	s.errCode = errCode
	s.mu.Unlock()
}

func (s *Session) shortID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessionID) >= 8 {
		return s.sessionID[:8]
	}
	return s.sessionID
}

// NewFleet builds rows*cols workers, each with its own simulated session and a
// credential popped from the available queue.
func NewFleet(cfg Config, rows, cols int, bounds geo.Bounds, scanDelay float64, available dispatch.AccountQueue, log logger.Logger) ([]*dispatch.Worker, []*Session, error) {
	n := rows * cols
	if n <= 0 {
		return nil, nil, fmt.Errorf("fleet grid %dx%d is empty", rows, cols)
	}
	workers := make([]*dispatch.Worker, 0, n)
	sessions := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		account, ok := available.TryPop()
		if !ok {
			return nil, nil, fmt.Errorf("fleet needs %d accounts, ran out after %d", n, i)
		}
		sess := NewSession(cfg, account, cfg.Seed+int64(i))
		start := geo.StartCoords(i, rows, cols, bounds)
		workers = append(workers, dispatch.NewWorker(i, sess, start, scanDelay))
		sessions = append(sessions, sess)
	}
	log.Infof("fleet of %d workers ready (%dx%d grid)", n, rows, cols)
	return workers, sessions, nil
}
