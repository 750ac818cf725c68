package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, 2)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "validate-rules")
}

func TestValidateRulesCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relevance_keywords: ["protección de menores"]
type_patterns:
  - type: "new_regulation"
    pattern: "se aprueba"
`), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate-rules", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ok")
}

func TestValidateRulesCmd_RejectsBrokenTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relevance_keywords: []\n"), 0o600))

	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"validate-rules", path})

	require.Error(t, root.Execute())
}

func TestServeCmd_FailsWithoutFeedEndpoint(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	require.Error(t, root.Execute())
}
