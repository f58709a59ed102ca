package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("REDIS_URI", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMongo || cfg.Addr != "localhost:3000" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HistoryCacheSize != 100 || cfg.HistoryCacheTTL != time.Hour {
		t.Fatalf("cache defaults: %d %s", cfg.HistoryCacheSize, cfg.HistoryCacheTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("EVENT_RATE", "2.5")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MONGO_DATABASE=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MONGO_DATABASE", "")
	os.Unsetenv("MONGO_DATABASE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.EventRate != 2.5 {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
	if cfg.MongoDatabase != "fromfile" {
		t.Fatalf("env file ignored: %q", cfg.MongoDatabase)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"STORE":              "postgres",
		"BCRYPT_COST":        "99",
		"HISTORY_CACHE_SIZE": "zero",
		"EVENT_RATE":         "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatalf("%s=%s accepted", key, value)
			}
		})
	}
}
