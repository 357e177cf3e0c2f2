package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/domain/entities"
	"vision_automation/infrastructure/config"
)

func writeConfig(t *testing.T, backend, memPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vision.yaml")
	data := fmt.Sprintf("memory:\n  backend: %s\n  path: %s\n", backend, memPath)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMemoryCommands(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			memPath := filepath.Join(t.TempDir(), "memory")
			if backend == "sqlite" {
				memPath += ".db"
			}
			cfgPath := writeConfig(t, backend, memPath)

			store, err := OpenMemory(config.MemoryConfig{Backend: backend, Path: memPath}, nil)
			require.NoError(t, err)
			key := entities.MemoryKey{ContextID: "crm", ScreenID: "abc123", Target: "submit"}
			require.NoError(t, store.RecordOutcome(context.Background(), key, entities.Point{X: 200, Y: 220}, true))
			require.NoError(t, store.Close())

			out, err := execute(t, "memory", "list", "--config", cfgPath, "--context", "crm")
			require.NoError(t, err)
			assert.Contains(t, out, "abc123")
			assert.Contains(t, out, "(200,220)")

			out, err = execute(t, "memory", "invalidate", "abc123", "Submit", "--config", cfgPath, "--context", "crm")
			require.NoError(t, err)
			assert.Contains(t, out, `Forgot "submit"`)

			out, err = execute(t, "memory", "list", "--config", cfgPath, "--context", "crm")
			require.NoError(t, err)
			assert.Contains(t, out, "No remembered targets")
		})
	}
}

func TestAct_RejectsBadStepBeforeStartingBrowser(t *testing.T) {
	_, err := execute(t, "act", "hover", "Menu", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "unknown action")
}

func TestInvalidConfigIsReported(t *testing.T) {
	cfgPath := writeConfig(t, "redis", t.TempDir())
	_, err := execute(t, "memory", "list", "--config", cfgPath)
	assert.ErrorContains(t, err, "invalid configuration")
}
