package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/config"
	"github.com/mmeshcher/race-economy/internal/middleware"
)

func newTestRoot(t *testing.T, cfg *config.Config) (*bytes.Buffer, func(args ...string) error) {
	t.Helper()

	out := &bytes.Buffer{}
	return out, func(args ...string) error {
		cmd := newRootCommand(&RootOptions{
			Logger:     zap.NewNop(),
			LoadConfig: func() (*config.Config, error) { return cfg, nil },
		})
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}
}

func memoryConfig() *config.Config {
	return &config.Config{
		AuthSecret:              "test-secret",
		CatalogTTL:              time.Minute,
		ReceiptLease:            2 * time.Minute,
		ReceiptCacheTTL:         time.Hour,
		FailSafeBuffer:          5 * time.Minute,
		SafetyNetStuckThreshold: 48 * time.Hour,
		SweepBatch:              50,
	}
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(zap.NewNop())
	paths := [][]string{
		{"catalog", "validate"},
		{"scheduler", "run-due"},
		{"sweep", "failsafe"},
		{"sweep", "safetynet"},
		{"grant"},
		{"token"},
	}

	for _, p := range paths {
		t.Run(strings.Join(p, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(p)
			require.NoError(t, err)
			assert.Equal(t, p[len(p)-1], sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, run := newTestRoot(t, memoryConfig())
	err := run("catalog", "validate", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCatalogValidate_Embedded(t *testing.T) {
	out, run := newTestRoot(t, memoryConfig())
	require.NoError(t, run("catalog", "validate", "--format", "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "embedded", got["catalog"])
	assert.Equal(t, true, got["valid"])
	assert.Greater(t, got["offers"], float64(0))
}

func TestCatalogValidate_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("skus:\n  - id: [broken\n"), 0o600))

	_, run := newTestRoot(t, memoryConfig())
	err := run("catalog", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is invalid")
}

func TestSweeps_OnEmptyStore(t *testing.T) {
	for _, args := range [][]string{
		{"scheduler", "run-due"},
		{"sweep", "failsafe"},
		{"sweep", "safetynet"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			out, run := newTestRoot(t, memoryConfig())
			require.NoError(t, run(append(args, "--format", "json")...))

			var got map[string]any
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, float64(0), got["scanned"])
			assert.Equal(t, float64(0), got["errors"])
		})
	}
}

func TestGrant(t *testing.T) {
	out, run := newTestRoot(t, memoryConfig())
	require.NoError(t, run("grant", "p1", "--gems", "100", "--coins", "50", "--op-id", "op-1", "--format", "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, float64(100), got["gems"])
	assert.Equal(t, float64(50), got["coins"])
	assert.Equal(t, "op-1", got["opId"])
	assert.Equal(t, false, got["replayed"])
}

func TestGrant_RejectsZeroAmount(t *testing.T) {
	_, run := newTestRoot(t, memoryConfig())
	require.Error(t, run("grant", "p1"))
}

func TestToken(t *testing.T) {
	cfg := memoryConfig()
	out, run := newTestRoot(t, cfg)
	require.NoError(t, run("token", "p1"))

	want := middleware.NewAuthMiddleware(cfg.AuthSecret).Token("p1")
	assert.Contains(t, out.String(), "token: "+want)
}

func TestToken_RequiresSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuthSecret = ""
	_, run := newTestRoot(t, cfg)
	require.ErrorIs(t, run("token", "p1"), errNoSecret)
}
