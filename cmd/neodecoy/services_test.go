package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neodecoy/internal/config"
)

func TestServiceRows(t *testing.T) {
	table, err := config.DefaultServices().ToTable()
	require.NoError(t, err)

	rows := serviceRows(table)
	require.Len(t, rows, 1+len(table.TCP)+len(table.UDP))
	assert.Equal(t, []string{"Protocol", "Port", "Name", "Bytes", "First Line"}, rows[0])
	assert.Equal(t, []string{"tcp", "22", "ssh", "39", "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu1"}, rows[1])

	last := rows[len(rows)-1]
	assert.Equal(t, []string{"udp", "9999", "udp-ok", "2", "OK"}, last)
}

func TestExportServices_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, exportServices(&buf, config.DefaultServices()))
	assert.Contains(t, buf.String(), "services:")
	assert.Contains(t, buf.String(), "reply_hex:")

	path := filepath.Join(t.TempDir(), "exported.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)

	want, err := config.DefaultServices().ToTable()
	require.NoError(t, err)
	got, err := cfg.Services.ToTable()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportServicesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, exportServicesToFile(path, config.DefaultServices()))

	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Services.TCP, len(config.DefaultServices().TCP))

	err = exportServicesToFile(filepath.Join(dir, "missing", "services.yaml"), config.DefaultServices())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create")
}
