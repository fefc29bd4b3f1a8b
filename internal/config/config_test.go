package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
server:
  http_addr: ":9090"
inventory:
  backend: file
  snapshot_path: /tmp/stock.json
warranty:
  proof_filter: 'signal.content != ""'
ticket:
  window: 2h
settings:
  proof_window: 12h
  inbound_channel: vouch
  review_channel: staff
  supervisor_role: moderator
`), 0o644)

	t.Setenv("DUE", "7200")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != ":50051" {
		t.Errorf("expected default grpc addr, got %s", cfg.Server.GRPCAddr)
	}
	if cfg.Ticket.Window != 2*time.Hour {
		t.Errorf("expected 2h ticket window, got %v", cfg.Ticket.Window)
	}
	if cfg.Settings.ProofWindow != 2*time.Hour {
		t.Errorf("expected DUE override of 2h, got %v", cfg.Settings.ProofWindow)
	}
	if cfg.Settings.InboundChannel != "vouch" || cfg.Settings.SupervisorRole != "moderator" {
		t.Errorf("unexpected settings %+v", cfg.Settings)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("inventory:\n  backend: etcd\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLoad_InvalidDue(t *testing.T) {
	t.Setenv("DUE", "soon")

	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric DUE")
	}
}

func TestSettingsStore_UpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := OpenSettings(path, Settings{ProofWindow: time.Hour})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	updated, err := store.Update(func(s *Settings) {
		s.ProofWindow = 3 * time.Hour
		s.InboundChannel = "vouches"
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.ProofWindow != 3*time.Hour {
		t.Errorf("expected 3h, got %v", updated.ProofWindow)
	}

	reopened, err := OpenSettings(path, Settings{ProofWindow: time.Hour})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := reopened.Current(); got.ProofWindow != 3*time.Hour || got.InboundChannel != "vouches" {
		t.Errorf("settings not persisted: %+v", got)
	}
}

func TestSettingsStore_RejectsInvalid(t *testing.T) {
	store, _ := OpenSettings("", Settings{ProofWindow: time.Hour})

	if _, err := store.Update(func(s *Settings) { s.ProofWindow = 0 }); err == nil {
		t.Error("expected validation error")
	}
	if store.Current().ProofWindow != time.Hour {
		t.Error("invalid update must not change current settings")
	}
}

func TestLoad_GatewayRoleMustDifferFromAdmin(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Auth.GatewayRole != "gateway" {
		t.Errorf("expected default gateway role, got %q", cfg.Auth.GatewayRole)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("auth:\n  admin_role: admin\n  gateway_role: admin\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error when gateway and admin roles are the same")
	}
}
