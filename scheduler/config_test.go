package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
parallel_workers: 3
elastic_max_workers: 7
elastic_idle_ttl: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.ParallelWorkers)
	assert.Equal(t, 7, cfg.ElasticMaxWorkers)
	assert.Equal(t, DefaultConfig().ElasticMaxQueued, cfg.ElasticMaxQueued, "absent fields keep defaults")
	assert.Equal(t, 5*time.Second, cfg.ElasticIdleTTL)
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := ParseConfig([]byte("parallel_workers: 0"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("parallel_workers: [nope"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedulers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("elastic_max_queued: 12\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.ElasticMaxQueued)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSharedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParallelWorkers = 2
	require.NoError(t, SetDefaults(cfg))
	t.Cleanup(func() { _ = SetDefaults(DefaultConfig()) })

	p := Default()
	assert.Same(t, p, Default(), "shared scheduler is created once")
	assert.Equal(t, 2, p.Stats().Workers)
	assert.NotNil(t, DefaultElastic())
	assert.NotNil(t, DefaultSingle())

	require.NoError(t, Shutdown())
	assert.NotSame(t, p, Default(), "shutdown resets the shared scheduler")

	assert.Error(t, SetDefaults(Config{}))
}
