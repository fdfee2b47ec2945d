package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/config"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Reconnects.WithLabelValues("success").Inc()
	m.ConnectionsActive.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestConfigStoreReloadNotifiesListeners(t *testing.T) {
	s := NewConfigStore(config.Default())
	var got *config.Config
	s.OnReload(func(c *config.Config) { got = c })

	err := s.Reload("/nonexistent/path/does/not/matter.yaml")
	assert.Error(t, err)
	assert.Nil(t, got)

	path := filepath.Join(t.TempDir(), "reload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy_host: example.com:443\n"), 0o600))
	require.NoError(t, s.Reload(path))
	require.NotNil(t, got)
	assert.Equal(t, "example.com:443", got.ProxyHost)
	assert.Same(t, got, s.Current())
}

func TestConfigStoreCurrentReturnsInitial(t *testing.T) {
	initial := config.Default()
	s := NewConfigStore(initial)
	assert.Same(t, initial, s.Current())
}
