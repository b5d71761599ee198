package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scip2/internal/config"
	"github.com/banshee-data/scip2/internal/scip2"
	"github.com/banshee-data/scip2/internal/session"
)

func TestFlagDefaults(t *testing.T) {
	if *devMode {
		t.Error("dev mode should be off by default")
	}
	if *configPath != "" || *device != "" || *listen != "" {
		t.Error("config, device and listen overrides should default to empty")
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.GetTarget())

	path := filepath.Join(t.TempDir(), "urg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"target": "tcp://10.0.0.5:10940", "group": 3}`), 0644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:10940", cfg.GetTarget())
	assert.Equal(t, 3, cfg.GetGroup())
}

func TestAcquisition(t *testing.T) {
	enc := "3x2"
	count := 5
	cfg := &config.DriverConfig{Encoding: &enc, ScanCount: &count}

	want := session.Acquisition{Start: 44, End: 725, Group: 1, Count: 5, Encoding: scip2.Encoding3x2}
	assert.Equal(t, want, acquisition(cfg))
}

func TestRun_DevMode(t *testing.T) {
	addr := "127.0.0.1:0"
	cfg := &config.DriverConfig{Listen: &addr}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg, true))
}

func TestRun_InvalidConfig(t *testing.T) {
	mode := "gs"
	cfg := &config.DriverConfig{Mode: &mode}
	assert.Error(t, run(context.Background(), cfg, true))
}
