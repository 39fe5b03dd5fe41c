package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFiCommand(t *testing.T) {
	out, err := run(t, fiCmd(), "-l", "100", "-b", "100")
	require.NoError(t, err)
	assert.Equal(t, "fi=55 severity=slashable ratio=0.085\n", out)

	_, err = run(t, fiCmd(), "-l", "101")
	assert.Error(t, err)
}

func TestRatioCommand(t *testing.T) {
	out, err := run(t, ratioCmd(), "29", "60", "100")
	require.NoError(t, err)
	assert.Equal(t, " 29  0.0000\n 60  0.1000\n100  1.0000\n", out)

	_, err = run(t, ratioCmd(), "12x")
	assert.Error(t, err)
}

func TestSlashCommand(t *testing.T) {
	out, err := run(t, slashCmd(), "--fi", "70", "--stake", "1000", "--loss", "1000000")
	require.NoError(t, err)
	assert.Contains(t, out, `"amount": "260"`)
	assert.Contains(t, out, `"burn": "52"`)
	assert.Contains(t, out, `"compensation": "208"`)
	assert.Contains(t, out, `"bound": "stake"`)

	_, err = run(t, slashCmd(), "--fi", "70", "--stake", "abc")
	assert.ErrorContains(t, err, "--stake")
}

func TestTransitionCommand(t *testing.T) {
	out, err := run(t, transitionCmd(), "limited", "fraud")
	require.NoError(t, err)
	assert.Contains(t, out, "LIMITED -> FROZEN -> BANNED\n")
	assert.Contains(t, out, "max_tier=-1")

	out, err = run(t, transitionCmd(), "BANNED", "recovery")
	require.NoError(t, err)
	assert.Equal(t, "BANNED: no transition on recovery\n", out)

	_, err = run(t, transitionCmd(), "gone", "fraud")
	assert.Error(t, err)
}
