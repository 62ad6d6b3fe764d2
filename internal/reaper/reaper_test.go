package reaper

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/config"
)

func TestNew_DefaultSchedule(t *testing.T) {
	r, err := New(nil, &config.ReaperConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Default schedule fires every five minutes.
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if next := r.schedule.Next(now); next.Minute() != 5 {
		t.Errorf("next fire at %v, want minute 5", next)
	}
	if r.idleTTL != time.Hour {
		t.Errorf("idleTTL = %v, want 1h", r.idleTTL)
	}
}

func TestNew_CustomSchedule(t *testing.T) {
	cfg := &config.ReaperConfig{Schedule: "0 3 * * *", IdleTTLSeconds: 120}
	r, err := New(nil, cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next := r.schedule.Next(now)
	if next.Hour() != 3 || next.Day() != 2 {
		t.Errorf("next fire at %v, want 03:00 next day", next)
	}
	if r.idleTTL != 2*time.Minute {
		t.Errorf("idleTTL = %v, want 2m", r.idleTTL)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := &config.ReaperConfig{Schedule: "not a schedule"}
	if _, err := New(nil, cfg, slog.Default()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
