package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/config"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

func TestNewHostWiresDefaultCollaborators(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerCount = 2
	reg := prometheus.NewRegistry()

	h, err := New(cfg, nil, WithRegisterer(reg))
	require.NoError(t, err)
	require.NotNil(t, h.pool)
	require.NotNil(t, h.provider)
	require.NotNil(t, h.resolver)
	require.NotNil(t, h.codec)
	require.Equal(t, cfg, h.ConfigStore().Current())
	h.Close()
}

func TestDialWithNoTargetAndNoBrowserFails(t *testing.T) {
	cfg := config.Default()
	cfg.ProxyHost = ""
	reg := prometheus.NewRegistry()

	h, err := New(cfg, nil, WithRegisterer(reg))
	require.NoError(t, err)
	defer h.Close()

	_, derr := h.Dial("", nil, nil)
	require.Error(t, derr)
	require.NotEqual(t, pnerr.KindOK, pnerr.KindOf(derr))
}
