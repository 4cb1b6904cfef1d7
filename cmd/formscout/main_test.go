package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/csheth/formscout/internal/api/apitest"
)

func historyServer(t *testing.T) *apitest.Server {
	t.Helper()
	srv := apitest.NewServer(apitest.Options{Forms: []apitest.Form{
		{ID: "old", Name: "lease.pdf", Status: "ready", CreatedAt: "2024-01-02T10:00:00Z", FileSize: 2048},
		{ID: "new", Name: "w9.pdf", Status: "ready", CreatedAt: "2024-05-06T10:00:00Z", FileSize: 4096},
	}})
	t.Cleanup(srv.Close)
	return srv
}

func listArgs(t *testing.T, srv *apitest.Server, output string) []string {
	dir := t.TempDir()
	return []string{
		"--server", srv.URL,
		"--list",
		"--output", output,
		"--cache-dir", filepath.Join(dir, "cache"),
		"--log-level", "error",
	}
}

func TestListPrintsJSONNewestFirst(t *testing.T) {
	srv := historyServer(t)
	var stdout, stderr bytes.Buffer

	code := run(listArgs(t, srv, "json"), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var records []formRecord
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "w9.pdf", records[0].Name)
	assert.Equal(t, "lease.pdf", records[1].Name)
	assert.EqualValues(t, 2048, records[1].FileSize)
}

func TestListPrintsYAML(t *testing.T) {
	srv := historyServer(t)
	var stdout, stderr bytes.Buffer

	code := run(listArgs(t, srv, "yaml"), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var records []formRecord
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Contains(t, stdout.String(), "name: lease.pdf")
}

func TestHelpPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "Usage: formscout"))
}

func TestInvalidFlagsExitWithUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--output", "xml", "--list"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "invalid output format")
	assert.Empty(t, stdout.String())
}
