package terminal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/infrastructure/config"
)

func TestNewApp_MemoryFailureFlushesTracing(t *testing.T) {
	shutdowns := 0
	orig := initTracing
	initTracing = func(string, string) (func(context.Context) error, error) {
		return func(context.Context) error {
			shutdowns++
			return nil
		}, nil
	}
	defer func() { initTracing = orig }()

	blocker := filepath.Join(t.TempDir(), "memory")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))

	cfg := config.DefaultConfig()
	cfg.Memory.Backend = "json"
	cfg.Memory.Path = filepath.Join(blocker, "nested")

	app, err := newApp(context.Background(), cfg, logrus.New(), nil)
	assert.Nil(t, app)
	assert.ErrorContains(t, err, "failed to open memory")
	assert.Equal(t, 1, shutdowns)
}
