package sessionstore

import (
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

func newSession(id string) *core.Session {
	return &core.Session{ID: id, ProjectDir: "/tmp", Mode: core.ModeDefault}
}

func TestCreateGetClose(t *testing.T) {
	s := New(DefaultConfig())
	if err := s.Create(newSession("s1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("Get: wrong session %+v", got)
	}
	if err := s.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get("s1"); err != ErrNotFound {
		t.Fatalf("Get after Close: want ErrNotFound, got %v", err)
	}
}

func TestMaxSessions(t *testing.T) {
	s := New(Config{MaxSessions: 1})
	if err := s.Create(newSession("s1")); err != nil {
		t.Fatalf("Create s1: %v", err)
	}
	if err := s.Create(newSession("s2")); err != ErrMaxSessions {
		t.Fatalf("Create s2: want ErrMaxSessions, got %v", err)
	}
}

func TestBeginTurnEnforcesSingleActive(t *testing.T) {
	s := New(DefaultConfig())
	_ = s.Create(newSession("s1"))
	if err := s.BeginTurn("s1"); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	if err := s.BeginTurn("s1"); err != ErrAlreadyActive {
		t.Fatalf("second BeginTurn: want ErrAlreadyActive, got %v", err)
	}
	if err := s.EndTurn("s1"); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if err := s.BeginTurn("s1"); err != nil {
		t.Fatalf("BeginTurn after EndTurn: %v", err)
	}
}

func TestParkAndResume(t *testing.T) {
	s := New(DefaultConfig())
	_ = s.Create(newSession("s1"))
	_ = s.BeginTurn("s1")

	parked := &turn.ParkedTurn{SessionID: "s1", TurnID: "t1", ParkedAt: time.Now()}
	if err := s.Park("s1", parked); err != nil {
		t.Fatalf("Park: %v", err)
	}
	if err := s.BeginTurn("s1"); err != ErrAlreadyActive {
		t.Fatalf("BeginTurn while parked: want ErrAlreadyActive, got %v", err)
	}

	got, ok := s.Parked("s1")
	if !ok || got.TurnID != "t1" {
		t.Fatalf("Parked: want t1, got %+v ok=%v", got, ok)
	}

	resumed, err := s.Resume("s1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.TurnID != "t1" {
		t.Fatalf("Resume: wrong turn %+v", resumed)
	}
	if _, err := s.Resume("s1"); err != ErrNoParkedTurn {
		t.Fatalf("second Resume: want ErrNoParkedTurn, got %v", err)
	}
}

func TestReapIdle(t *testing.T) {
	s := New(Config{MaxSessions: 64, IdleTTL: time.Minute})
	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })
	_ = s.Create(newSession("s1"))

	now = now.Add(2 * time.Minute)
	reaped := s.ReapIdle()
	if len(reaped) != 1 || reaped[0] != "s1" {
		t.Fatalf("ReapIdle: want [s1], got %v", reaped)
	}
	if _, err := s.Get("s1"); err != ErrNotFound {
		t.Fatalf("Get after reap: want ErrNotFound, got %v", err)
	}
}

func TestReapIdleSkipsActiveAndParked(t *testing.T) {
	s := New(Config{MaxSessions: 64, IdleTTL: time.Minute})
	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })
	_ = s.Create(newSession("s1"))
	_ = s.BeginTurn("s1")

	now = now.Add(2 * time.Minute)
	if reaped := s.ReapIdle(); len(reaped) != 0 {
		t.Fatalf("ReapIdle: want none reaped while active, got %v", reaped)
	}
}

func TestReapParkedAborts(t *testing.T) {
	s := New(Config{MaxSessions: 64, ParkTTL: time.Minute})
	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })
	_ = s.Create(newSession("s1"))
	_ = s.BeginTurn("s1")
	_ = s.Park("s1", &turn.ParkedTurn{SessionID: "s1", TurnID: "t1", ParkedAt: now})

	now = now.Add(2 * time.Minute)
	aborted := s.ReapParked()
	if len(aborted) != 1 || aborted[0].SessionID != "s1" || aborted[0].TurnID != "t1" {
		t.Fatalf("ReapParked: want [{s1 t1}], got %v", aborted)
	}
	if _, ok := s.Parked("s1"); ok {
		t.Fatalf("Parked after reap: want none")
	}
	if err := s.BeginTurn("s1"); err != nil {
		t.Fatalf("BeginTurn after park reap: %v", err)
	}
}
