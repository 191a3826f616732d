package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	conf, err := Load("")
	assert.Nil(t, err)
	assert.Equal(t, Default(), conf)
	assert.Equal(t, int64(10*1024*1024), conf.BroadcastThresholdBytes)
	assert.Equal(t, 20, conf.MaxOptimizerPasses)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MINIDF_PARTITIONS", "8")
	t.Setenv("MINIDF_BROADCAST_THRESHOLD_BYTES", "1024")
	conf, err := Load("")
	assert.Nil(t, err)
	assert.Equal(t, 8, conf.Partitions)
	assert.Equal(t, int64(1024), conf.BroadcastThresholdBytes)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Workers, conf.Workers)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minidf.yaml")
	content := []byte("workers: 2\nbatch_size: 64\n")
	assert.Nil(t, os.WriteFile(path, content, 0o644))

	conf, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, 2, conf.Workers)
	assert.Equal(t, 64, conf.BatchSize)
	assert.Equal(t, Default().Partitions, conf.Partitions)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NotNil(t, err)
}
