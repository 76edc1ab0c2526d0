package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/infra/logger"
	"github.com/fieldops/rove/infra/queue"
)

func testBounds() geo.Bounds {
	return geo.Bounds{
		Start: model.Point{Lat: 40.50, Lon: -74.05},
		End:   model.Point{Lat: 40.52, Lon: -74.03},
	}
}

func testConfig() Config {
	cfg := Config{VisitMinMS: 1, VisitMaxMS: 5, SeenMax: 3, Seed: 1}
	cfg.SetDefaults()
	return cfg
}

func TestSession_VisitSucceedsWithoutFailures(t *testing.T) {
	cfg := testConfig()
	cfg.FailureRate = 0
	s := NewSession(cfg, model.Account{Username: "a", Password: "pw"}, 1)

	out, err := s.Visit(context.Background(), model.Point{Lat: 40.51, Lon: -74.04}, "s1")
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	if !out.Found || out.Seen < 1 || out.Seen > cfg.SeenMax {
		t.Fatalf("outcome = %+v", out)
	}
	if s.Status() != "IDLE" {
		t.Fatalf("status = %s after visit", s.Status())
	}
	if s.ErrorCode() != "" {
		t.Fatalf("error code = %s after success", s.ErrorCode())
	}
}

func TestSession_VisitAlwaysFails(t *testing.T) {
	cfg := testConfig()
	cfg.FailureRate = 1
	cfg.VerificationRate = 0
	s := NewSession(cfg, model.Account{Username: "a", Password: "pw"}, 1)

	if _, err := s.Visit(context.Background(), model.Point{}, "s1"); err == nil {
		t.Fatalf("expected visit failure")
	}
	if s.ErrorCode() != "TIMEOUT" {
		t.Fatalf("error code = %s", s.ErrorCode())
	}
}

func TestSession_VerificationFlagsAccount(t *testing.T) {
	cfg := testConfig()
	cfg.FailureRate = 1
	cfg.VerificationRate = 1
	cfg.BanRate = 0
	s := NewSession(cfg, model.Account{Username: "a", Password: "pw"}, 1)

	if _, err := s.Visit(context.Background(), model.Point{}, "s1"); err == nil {
		t.Fatalf("expected visit failure")
	}
	if s.ErrorCode() != "VERIFICATION" {
		t.Fatalf("error code = %s", s.ErrorCode())
	}
	if acct := s.Account(); !acct.NeedsVerification || acct.Banned {
		t.Fatalf("account flags = %+v", acct)
	}
}

func TestSession_VisitHonorsCancel(t *testing.T) {
	cfg := testConfig()
	cfg.VisitMinMS = 500
	cfg.VisitMaxMS = 600
	s := NewSession(cfg, model.Account{Username: "a", Password: "pw"}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Visit(ctx, model.Point{}, ""); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("visit did not return promptly on cancel")
	}
}

func TestSession_SwapAccount(t *testing.T) {
	s := NewSession(testConfig(), model.Account{Username: "old", Password: "pw"}, 1)
	old, err := s.SwapAccount(context.Background(), model.Account{Username: "new", Password: "pw"})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if old.Username != "old" {
		t.Fatalf("swap returned %q", old.Username)
	}
	if s.Account().Username != "new" {
		t.Fatalf("session kept %q", s.Account().Username)
	}
}

func TestNewFleet(t *testing.T) {
	available := queue.New()
	for i := 0; i < 6; i++ {
		available.Push(model.Account{Username: "a", Password: "pw"})
	}
	bounds := testBounds()
	workers, sessions, err := NewFleet(testConfig(), 2, 3, bounds, 10, available, logger.NopLogger{})
	if err != nil {
		t.Fatalf("fleet: %v", err)
	}
	if len(workers) != 6 || len(sessions) != 6 {
		t.Fatalf("fleet sizes = %d/%d", len(workers), len(sessions))
	}
	if available.Size() != 0 {
		t.Fatalf("queue should be drained, %d left", available.Size())
	}
}

func TestNewFleetInsufficientAccounts(t *testing.T) {
	available := queue.New()
	available.Push(model.Account{Username: "only", Password: "pw"})
	if _, _, err := NewFleet(testConfig(), 2, 2, testBounds(), 10, available, logger.NopLogger{}); err == nil {
		t.Fatalf("expected error for short account supply")
	}
}
