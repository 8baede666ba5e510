package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Validate Command Tests
// =============================================================================

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCmdValidate_Valid(t *testing.T) {
	path := writeManifest(t, `
services:
  install:
    build:
      context: .
      target: install
  app:
    build: .
    command: ["gunicorn", "-b", ":8000", "feedmixer_wsgi"]
    environment:
      LANG: ${LANG:-C.UTF-8}
    depends_on:
      install:
        condition: service_completed_successfully
`)

	code := cmdValidate([]string{"-f", path})
	assert.Equal(t, ExitSuccess, code)
}

func TestCmdValidate_UnknownDependency(t *testing.T) {
	path := writeManifest(t, `
services:
  app:
    image: nginx:alpine
    depends_on: [ghost]
`)

	code := cmdValidate([]string{"-f", path})
	assert.Equal(t, ExitDeployError, code)
}

func TestCmdValidate_MissingFile(t *testing.T) {
	code := cmdValidate([]string{"-f", "/nonexistent/docker-compose.yml"})
	assert.Equal(t, ExitUsageError, code)
}
