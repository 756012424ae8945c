package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestCommandsListsTable(t *testing.T) {
	out := run(t, "commands")
	lines := strings.Split(strings.TrimSpace(out), "\n")

	require.Len(t, lines, 59)
	assert.Contains(t, lines[0], "MNEMONIC")
	assert.Contains(t, out, "PAC")
	assert.Contains(t, out, "x500")
	assert.Contains(t, out, "(unverified)")
}

func TestVersionPrintsSomething(t *testing.T) {
	out := run(t, "version")
	assert.NotEmpty(t, strings.TrimSpace(out))
}
