package config

import (
	"testing"
	"time"
)

func TestChallengeBuildsImmutableSettings(t *testing.T) {
	cfg := &Config{
		Sync: SyncConfig{ChallengeStart: "2025-12-17", ActivityTypes: []string{"Run", "Walk", "Hike"}},
		Segments: []SegmentConfig{
			{ID: 22655740, Name: " Hill "},
			{ID: 40409507, Name: "Loop"},
		},
	}
	challenge, err := cfg.Challenge()
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if want := time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC); !challenge.Start().Equal(want) {
		t.Fatalf("start = %v, want %v", challenge.Start(), want)
	}
	if name, ok := challenge.Segments().Name(22655740); !ok || name != "Hill" {
		t.Fatalf("segment name = %q ok=%v", name, ok)
	}
	if !challenge.TracksActivityType("Hike") || challenge.TracksActivityType("Swim") {
		t.Fatal("activity type filter mismatch")
	}
}

func TestChallengeValidation(t *testing.T) {
	cases := map[string]*Config{
		"missing start":     {Segments: []SegmentConfig{{ID: 1}}},
		"bad start":         {Sync: SyncConfig{ChallengeStart: "17/12/2025"}, Segments: []SegmentConfig{{ID: 1}}},
		"no segments":       {Sync: SyncConfig{ChallengeStart: "2025-12-17"}},
		"duplicate segment": {Sync: SyncConfig{ChallengeStart: "2025-12-17"}, Segments: []SegmentConfig{{ID: 1}, {ID: 1}}},
	}
	for name, cfg := range cases {
		if _, err := cfg.Challenge(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseChallengeStartAcceptsRFC3339(t *testing.T) {
	got, err := parseChallengeStart("2025-12-17T08:00:00+08:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC); !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestApplyDefaultsEnforcesPacingFloor(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{DetailInterval: 10 * time.Millisecond, WriteRetries: -1}}
	cfg.applyDefaults()

	if cfg.Sync.DetailInterval != 500*time.Millisecond || cfg.Sync.RunnerInterval != time.Second {
		t.Fatalf("intervals = %v / %v", cfg.Sync.DetailInterval, cfg.Sync.RunnerInterval)
	}
	if cfg.Sync.PerPage != 50 || cfg.Sync.FullResyncPages != 10 || cfg.Sync.WriteRetries != 0 {
		t.Fatalf("sync = %+v", cfg.Sync)
	}
	if len(cfg.Sync.ActivityTypes) != 3 {
		t.Fatalf("activity types = %v", cfg.Sync.ActivityTypes)
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_SECRET", "from-env")
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("STRAVA_CLIENT_ID", "")
	cfg := &Config{Strava: StravaConfig{ClientSecret: "from-yaml", ClientID: "yaml-id"}}
	overrideFromEnv(cfg)

	if cfg.Strava.ClientSecret != "from-env" || cfg.Database.DSN != "postgres://env" {
		t.Fatalf("env override not applied: %+v", cfg)
	}
	if cfg.Strava.ClientID != "yaml-id" {
		t.Fatalf("unset env var overwrote yaml value: %q", cfg.Strava.ClientID)
	}
}
