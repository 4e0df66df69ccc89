package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "repub", root.Name)
	assert.Equal(t, "repub - a private package registry", root.Description)
	assert.NotNil(t, root.Subcommands)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"serve", "migrate", "token", "storage", "backup"}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName], "expected subcommand %s to be non-nil", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := root.usage()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: repub <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "migrate")
	assert.Contains(t, output, "token")
	assert.Contains(t, output, "storage")
	assert.Contains(t, output, "backup")
}

func TestCommandExecute_NoArgs(t *testing.T) {
	root := NewRootCommand()

	oldArgs := os.Args
	os.Args = []string{"repub"}
	defer func() { os.Args = oldArgs }()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := root.Execute()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: repub <command> [args]")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	root := NewRootCommand()

	testCases := []struct {
		name     string
		helpFlag string
	}{
		{"lowercase -h", "-h"},
		{"lowercase --help", "--help"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			oldArgs := os.Args
			os.Args = []string{"repub", tc.helpFlag}
			defer func() { os.Args = oldArgs }()

			oldStdout := os.Stdout
			r, w, _ := os.Pipe()
			os.Stdout = w

			err := root.Execute()

			w.Close()
			os.Stdout = oldStdout

			var buf bytes.Buffer
			io.Copy(&buf, r)
			output := buf.String()

			assert.NoError(t, err)
			assert.Contains(t, output, "Usage: repub <command> [args]")
		})
	}
}

func TestCommandExecute_ValidSubcommand(t *testing.T) {
	root := NewRootCommand()

	mockCalled := false
	mockRun := func(args []string) error {
		mockCalled = true
		return nil
	}

	root.Subcommands["test"] = &Command{
		Name:        "test",
		Description: "Test command",
		Run:         mockRun,
	}

	oldArgs := os.Args
	os.Args = []string{"repub", "test"}
	defer func() { os.Args = oldArgs }()

	err := root.Execute()

	assert.NoError(t, err)
	assert.True(t, mockCalled, "expected mock subcommand to be called")
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root := NewRootCommand()

	oldArgs := os.Args
	os.Args = []string{"repub", "nonexistent"}
	defer func() { os.Args = oldArgs }()

	err := root.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestCommandExecute_SubcommandWithArgs(t *testing.T) {
	root := NewRootCommand()

	var receivedArgs []string
	mockRun := func(args []string) error {
		receivedArgs = args
		return nil
	}

	root.Subcommands["test"] = &Command{
		Name:        "test",
		Description: "Test command",
		Run:         mockRun,
	}

	oldArgs := os.Args
	os.Args = []string{"repub", "test", "arg1", "arg2", "-flag"}
	defer func() { os.Args = oldArgs }()

	err := root.Execute()

	assert.NoError(t, err)
	require.Equal(t, []string{"arg1", "arg2", "-flag"}, receivedArgs)
}
