package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBothReceiversDisabled(t *testing.T) {
	cfg := Default()
	cfg.GRPCEnabled = false
	cfg.HTTPEnabled = false

	require.ErrorIs(t, cfg.Validate(), ErrBothReceiversDisabled)
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.GRPCPort = 0

	require.Error(t, cfg.Validate())
}

func TestValidateRejectsQueueSizeOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.MessageQueueSize = 99

	require.Error(t, cfg.Validate())

	cfg.MessageQueueSize = 1_000_001
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsQueueSizeBoundaries(t *testing.T) {
	cfg := Default()
	cfg.MessageQueueSize = 100
	require.NoError(t, cfg.Validate())

	cfg.MessageQueueSize = 1_000_000
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsTLSWithoutCertOrKey(t *testing.T) {
	cfg := Default()
	cfg.TLSEnabled = true

	require.ErrorIs(t, cfg.Validate(), ErrTLSMissingCertOrKey)

	cfg.TLSCertPath = "/tmp/cert.pem"
	require.ErrorIs(t, cfg.Validate(), ErrTLSMissingCertOrKey)

	cfg.TLSKeyPath = "/tmp/key.pem"
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, Default().GRPCPort, cfg.GRPCPort)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"otlp_grpc_port": 9999, "otlp_message_format": "protobuf"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.GRPCPort)
	require.Equal(t, "protobuf", cfg.MessageFormat)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("OTLP_GRPC_PORT", "1234")
	t.Setenv("OTLP_MESSAGE_QUEUE_SIZE", "500")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1234, cfg.GRPCPort)
	require.Equal(t, 500, cfg.MessageQueueSize)
}
