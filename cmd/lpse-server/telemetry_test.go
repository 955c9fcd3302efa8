package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lpse-scraper/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, output, err := InitTelemetry(ctx, false, filepath.Join(dir, "dump"))
	require.NoError(t, err)
	require.Nil(t, output)
	require.Equal(t, telemetry.Telemetry{}, tel)
	require.NoError(t, tel.Shutdown(context.Background()))

	tel, output, err = InitTelemetry(ctx, true, filepath.Join(dir, "dump"))
	require.NoError(t, err)
	require.NotNil(t, output)
	require.DirExists(t, filepath.Join(dir, "dump"))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitTelemetryInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	err = os.WriteFile(filepath.Join(dir, "telemetry.json5"), []byte(`{protocol: "udp", endpoint: "x"}`), 0600)
	require.NoError(t, err)

	_, _, err = InitTelemetry(context.Background(), false, filepath.Join(dir, "dump"))
	require.Error(t, err)
}
