package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute(), out.String())
	return out.String()
}

func TestVersionShort(t *testing.T) {
	assert.Equal(t, Version+"\n", execute(t, "version", "--short"))
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "rshd.yaml")

	out := execute(t, "config", "init", "--config", path)
	assert.Contains(t, out, "Configuration file created at: "+path)

	out = execute(t, "config", "validate", "--config", path)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "No shared secret configured")
	assert.Contains(t, out, "TCP:             port 8072")
	assert.Contains(t, out, "RPC:             port 1099")

	out = execute(t, "config", "show", "--config", path, "--format", "json")
	assert.Contains(t, out, `"MaxUsers": 50`)

	out = execute(t, "config", "schema")
	assert.Contains(t, out, "Remote Shell Configuration")
}
