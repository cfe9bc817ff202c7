package db

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "binaudit", "worker")

	ch := make(chan *prometheus.Desc, 10)
	c.Describe(ch)
	close(ch)

	var descs []string
	for d := range ch {
		descs = append(descs, d.String())
	}
	require.Len(t, descs, 4)
	assert.Contains(t, descs[0], "binaudit_db_pool_total_conns")
	assert.Contains(t, descs[3], "binaudit_db_pool_max_conns")
}

func TestRegisterPoolStatsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := RegisterPoolStatsCollector(reg, nil, "binaudit", "worker")
	require.NoError(t, err)
	_, err = RegisterPoolStatsCollector(reg, nil, "binaudit", "worker")
	require.NoError(t, err, "registering twice is tolerated")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "a nil pool reports nothing")
}
