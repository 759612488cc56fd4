package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/logsink"
	"github.com/itohio/gasnode/pkg/telemetry"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "gasnode", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
		assert.NotNil(t, c.RunE, c.Name())
	}
	for _, want := range []string{"run", "probe", "calibrate", "dump", "ports"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "config.yaml", configFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("mock"))
}

// fastConfig returns a simulated setup without sensor warm-up delays.
func fastConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SCD4x.Warmup = 0
	cfg.SCD4x.MeasureDelay = 0
	cfg.Oxygen.KeyDelay = 0
	cfg.Scheduler.VisitSettle = 0
	cfg.Log.Dir = filepath.Join(t.TempDir(), "sd")
	return cfg
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "node.yaml")
	envPath := filepath.Join(dir, "node.env")

	cfg := config.Default()
	cfg.Log.Level = "debug"
	require.NoError(t, cfg.Save(cfgPath))
	require.NoError(t, os.WriteFile(envPath, []byte("GASNODE_DEVICE_NAME=bench-node\n"), 0644))
	t.Setenv(config.EnvDeviceName, "")
	os.Unsetenv(config.EnvDeviceName)

	got, err := loadConfig(&globalFlags{configFile: cfgPath, envFile: envPath, port: "/dev/ttyUSB1"})
	require.NoError(t, err)

	assert.Equal(t, "bench-node", got.Device.Name)
	assert.Equal(t, "/dev/ttyUSB1", got.Radio.Port)
	assert.Equal(t, "debug", got.Log.Level)
}

func TestProbe(t *testing.T) {
	cfg := fastConfig(t)
	hw, err := openHardware(cfg, true)
	require.NoError(t, err)
	defer hw.Close()

	tests := []struct {
		name    string
		channel int
		label   telemetry.Label
		wantErr error
	}{
		{name: "oxygen", channel: 0, label: telemetry.LabelO2},
		{name: "co2", channel: 1, label: telemetry.LabelCO2},
		{name: "not configured", channel: 15, wantErr: telemetry.ErrDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := probe(cfg, hw, tt.channel)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, v)
			if tt.label == telemetry.LabelO2 {
				assert.IsType(t, telemetry.O2Value(0), v)
			} else {
				assert.IsType(t, telemetry.CO2Value{}, v)
			}
		})
	}
}

func TestCalibrate(t *testing.T) {
	cfg := fastConfig(t)
	hw, err := openHardware(cfg, true)
	require.NoError(t, err)
	defer hw.Close()

	assert.NoError(t, calibrate(cfg, hw, 2, 20.9, 0))
	assert.ErrorIs(t, calibrate(cfg, hw, 3, 20.9, 0), telemetry.ErrDomain)
	assert.ErrorIs(t, calibrate(cfg, hw, 2, 20.9, 0.01), telemetry.ErrDomain)
}

func TestRunNode_Mock(t *testing.T) {
	cfg := fastConfig(t)
	cfg.Channels = []config.ChannelConfig{
		{ID: 0, Kind: "o2", Interval: 20 * time.Millisecond},
		{ID: 1, Kind: "co2", Interval: 20 * time.Millisecond},
	}
	cfg.Scheduler.Tick = 5 * time.Millisecond
	cfg.Scheduler.FlushInterval = 50 * time.Millisecond
	cfg.Radio.FrameDelay = 0
	cfg.Mock.AutoConnect = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, runNode(ctx, cfg, true))

	data, err := os.ReadFile(filepath.Join(cfg.Log.Dir, cfg.Log.File))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, strings.TrimSpace(logsink.Header), lines[0])
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,channel_id"))

	var out bytes.Buffer
	dir := t.TempDir()
	cmd := newDumpCmd(&globalFlags{
		configFile: filepath.Join(dir, "missing.yaml"),
		envFile:    filepath.Join(dir, "missing.env"),
	})
	cmd.SetOut(&out)
	t.Setenv(config.EnvLogDir, cfg.Log.Dir)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Equal(t, string(data), out.String())
}
