package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@chatter:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_secret")
	t.Setenv("CHATTER_ROOMS", "!a:example.org, !b:example.org")
	t.Setenv("CHATTER_CONTINUE_TIMEOUT", "45s")
	t.Setenv("CHATTER_RATE_LIMIT", "3")

	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Matrix.Rooms) != 2 || cfg.Matrix.Rooms[1] != "!b:example.org" {
		t.Errorf("rooms = %q", cfg.Matrix.Rooms)
	}
	if cfg.ContinueTimeout != 45*time.Second || cfg.RateLimit != 3 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.MessageLimit != 2000 || cfg.DatabasePath != "./chatter.db" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_MissingMatrix(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_secret")

	_, err := loadConfig(nil)
	if err == nil || !strings.Contains(err.Error(), "MATRIX_USER_ID") {
		t.Fatalf("got %v, want an error naming MATRIX_USER_ID", err)
	}
}
