package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:fleet.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RepoMode != RepoModeGitHub {
		t.Errorf("RepoMode = %s, want github", cfg.RepoMode)
	}
	if cfg.LeaseDurationMinutes != 60 {
		t.Errorf("LeaseDurationMinutes = %d, want 60", cfg.LeaseDurationMinutes)
	}
	if cfg.GraceMS != 120000 {
		t.Errorf("GraceMS = %d, want 120000", cfg.GraceMS)
	}
	if cfg.HeartbeatIntervalMS != 30000 {
		t.Errorf("HeartbeatIntervalMS = %d, want 30000", cfg.HeartbeatIntervalMS)
	}
	if cfg.MaxRetries != -1 {
		t.Errorf("MaxRetries = %d, want -1 (unlimited)", cfg.MaxRetries)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:fleet.db")
	t.Setenv("REPO_MODE", "subversion")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown REPO_MODE")
	}
}

func TestLoad_OverlayThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "fleet.yaml")
	body := "database_url: file:overlay.db\napi_key: overlay-key\n"
	if err := os.WriteFile(overlay, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "file:env.db")

	cfg, err := Load(overlay)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DatabaseURL != "file:env.db" {
		t.Errorf("DatabaseURL = %s, want file:env.db (environment wins)", cfg.DatabaseURL)
	}
	if cfg.APIKey != "overlay-key" {
		t.Errorf("APIKey = %s, want overlay-key", cfg.APIKey)
	}
}

func TestRepoMode_JudgeGated(t *testing.T) {
	if RepoModeDirect.JudgeGated() {
		t.Error("direct mode must not be judge-gated")
	}
	if !RepoModeGitHub.JudgeGated() || !RepoModeLocalGit.JudgeGated() {
		t.Error("github and local-git modes must be judge-gated")
	}
}
