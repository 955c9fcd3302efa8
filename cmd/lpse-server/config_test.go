package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvePort(t *testing.T) {
	table := []struct {
		env        string
		configured int
		expected   int
		fails      bool
	}{
		{expected: 3000},
		{configured: 8080, expected: 8080},
		{env: "9000", configured: 8080, expected: 9000},
		{env: "abc", fails: true},
		{env: "0", fails: true},
		{env: "70000", fails: true},
		{configured: -1, fails: true},
	}

	for _, row := range table {
		port, err := resolvePort(row.env, row.configured)
		if row.fails {
			require.Error(t, err, "env %q configured %d", row.env, row.configured)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, row.expected, port)
	}
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("PORT", "")
	cfg, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, Config{Port: 3000}, cfg)

	err = os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// stub upstream
		port: 4000,
		base_url: "http://localhost:9999/kemhan",
		upstream_timeout_seconds: 20,
	}`), 0644)
	require.NoError(t, err)

	cfg, err = ReadConfig()
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, "http://localhost:9999/kemhan", cfg.BaseUrl)
	require.Equal(t, 20*time.Second, cfg.UpstreamTimeout())

	t.Setenv("PORT", "5000")
	cfg, err = ReadConfig()
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Port)
}
