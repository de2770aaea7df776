package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/rapidsai/ptxcompiler/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var rootLogger *zap.Logger
	app := newApp(&rootLogger)
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"ptxc"}, args...))
	return stdout.String(), err
}

func TestCheck_Forced(t *testing.T) {
	t.Setenv(config.EnvApplyPatch, "1")

	out, err := runApp(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "patch: true\n")
	assert.Contains(t, out, "reason: forced\n")
	assert.Contains(t, out, "cached: false\n")
}

func TestCheck_KnownVersions(t *testing.T) {
	t.Setenv(config.EnvCheckPatchNeeded, "0")
	t.Setenv(config.EnvKnownDriverVersion, "11.8")
	t.Setenv(config.EnvKnownRuntimeVersion, "11.5")

	out, err := runApp(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "patch: false\n")
	assert.Contains(t, out, "reason: known versions\n")
	assert.Contains(t, out, "driver: 11.8\n")
	assert.Contains(t, out, "runtime: 11.5\n")
}

func TestCheck_SkippedWithoutVersions(t *testing.T) {
	t.Setenv(config.EnvCheckPatchNeeded, "0")

	out, err := runApp(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "patch: false\n")
	assert.Contains(t, out, "reason: check disabled\n")
}

func TestCheck_Cache(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	cachePath := filepath.Join(dir, "decision.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  path: "+cachePath+"\n  maxAge: 1h\n"), 0o644))
	t.Setenv(config.EnvCheckPatchNeeded, "0")
	t.Setenv(config.EnvKnownDriverVersion, "11.2")
	t.Setenv(config.EnvKnownRuntimeVersion, "11.5")

	out, err := runApp(t, "--config", configPath, "check", "--cache")
	require.NoError(t, err)
	assert.Contains(t, out, "patch: true\n")
	assert.Contains(t, out, "cached: false\n")
	assert.FileExists(t, cachePath)

	out, err = runApp(t, "--config", configPath, "check", "--cache")
	require.NoError(t, err)
	assert.Contains(t, out, "patch: true\n")
	assert.Contains(t, out, "cached: true\n")
}

func TestCheck_ClearCache(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	cachePath := filepath.Join(dir, "decision.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  path: "+cachePath+"\n  maxAge: 1h\n"), 0o644))
	t.Setenv(config.EnvApplyPatch, "1")

	_, err := runApp(t, "--config", configPath, "check", "--cache")
	require.NoError(t, err)
	require.FileExists(t, cachePath)

	out, err := runApp(t, "--config", configPath, "check", "--cache", "--clear-cache")
	require.NoError(t, err)
	assert.Contains(t, out, "cached: false\n")
	assert.FileExists(t, cachePath)

	_, err = runApp(t, "--config", configPath, "check", "--clear-cache")
	require.NoError(t, err)
	assert.NoFileExists(t, cachePath)
}

func TestPatch_Forced(t *testing.T) {
	t.Setenv(config.EnvApplyPatch, "1")

	out, err := runApp(t, "patch")
	if _, openErr := nvptx.Open(); openErr != nil {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PTX compiler library is unavailable")
		return
	}
	require.NoError(t, err)
	assert.Contains(t, out, "state: patch_applied\n")
	assert.Contains(t, out, "strategy: ptxcompiler\n")
}

func TestPatch_NotNeeded(t *testing.T) {
	t.Setenv(config.EnvCheckPatchNeeded, "0")
	t.Setenv(config.EnvKnownDriverVersion, "12.4")
	t.Setenv(config.EnvKnownRuntimeVersion, "12.4")

	out, err := runApp(t, "patch")
	require.NoError(t, err)
	assert.Contains(t, out, "state: patch_skipped\n")
	assert.Contains(t, out, "strategy: driver\n")
}

func TestInfo(t *testing.T) {
	t.Setenv(config.EnvApplyPatch, "1")

	out, err := runApp(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Codegen: 0.55")
	assert.Contains(t, out, "patch: true\n")
}

func TestMetricsTextfile(t *testing.T) {
	t.Setenv(config.EnvApplyPatch, "1")
	path := filepath.Join(t.TempDir(), "ptxcompiler.prom")

	_, err := runApp(t, "--metrics-textfile", path, "check")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ptxcompiler_")
}

func TestMetricsTextfile_NotWrittenByWorker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptxcompiler.prom")

	// Without a GPU the worker fails; the textfile is left alone either way.
	_, _ = runApp(t, "--metrics-textfile", path, probe.WorkerCommand)
	assert.NoFileExists(t, path)
}

func TestBadConfig(t *testing.T) {
	_, err := runApp(t, "--config", "../../fixtures/tests/invalid_config/config.yaml", "check")
	assert.ErrorContains(t, err, "failed to load config")
}
