package utils

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOSCommandRunCommandWithOutput is a function.
func TestOSCommandRunCommandWithOutput(t *testing.T) {
	type scenario struct {
		command string
		test    func(string, error)
	}

	scenarios := []scenario{
		{
			"echo -n '123'",
			func(output string, err error) {
				assert.NoError(t, err)
				assert.EqualValues(t, "123", output)
			},
		},
		{
			"rmdir unexisting-folder",
			func(output string, err error) {
				assert.Regexp(t, "rmdir.*unexisting-folder.*", err.Error())
			},
		},
	}

	for _, s := range scenarios {
		s.test(NewDummyOSCommand().RunCommandWithOutput(s.command))
	}
}

// TestOSCommandRunCommandWithOutputContext is a function.
func TestOSCommandRunCommandWithOutputContext(t *testing.T) {
	osCommand := NewDummyOSCommand()
	osCommand.SetCommand(func(name string, args ...string) *exec.Cmd {
		assert.EqualValues(t, "7z", name)
		return exec.Command("echo", "-n", "done")
	})

	output, err := osCommand.RunCommandWithOutputContext(context.Background(), "7z x archive.7z -o/tmp/extract -y")
	assert.NoError(t, err)
	assert.EqualValues(t, "done", output)
}

// TestOSCommandRunCommand is a function.
func TestOSCommandRunCommand(t *testing.T) {
	type scenario struct {
		command string
		test    func(error)
	}

	scenarios := []scenario{
		{
			"rmdir unexisting-folder",
			func(err error) {
				assert.Regexp(t, "rmdir.*unexisting-folder.*", err.Error())
			},
		},
	}

	for _, s := range scenarios {
		s.test(NewDummyOSCommand().RunCommand(s.command))
	}
}

// TestOSCommandExecutableFromString is a function.
func TestOSCommandExecutableFromString(t *testing.T) {
	type scenario struct {
		command string
		test    func(*exec.Cmd)
	}

	scenarios := []scenario{
		{
			`7z x "/var/cache/images/win 10.7z" -o/tmp/extract -y`,
			func(cmd *exec.Cmd) {
				assert.EqualValues(t, "7z", cmd.Args[0])
				assert.EqualValues(t, "/var/cache/images/win 10.7z", cmd.Args[2])
			},
		},
	}

	for _, s := range scenarios {
		s.test(NewDummyOSCommand().ExecutableFromString(s.command))
	}
}

// TestOSCommandQuote is a function.
func TestOSCommandQuote(t *testing.T) {
	osCommand := NewDummyOSCommand()

	actual := osCommand.Quote("hello `test`")
	expected := "\"hello \\`test\\`\""

	assert.EqualValues(t, expected, actual)
}

// TestOSCommandFileExists is a function.
func TestOSCommandFileExists(t *testing.T) {
	osCommand := NewDummyOSCommand()

	exists, err := osCommand.FileExists("/definitely/not/a/real/path")
	assert.NoError(t, err)
	assert.False(t, exists)

	exists, err = osCommand.FileExists("os.go")
	assert.NoError(t, err)
	assert.True(t, exists)
}
