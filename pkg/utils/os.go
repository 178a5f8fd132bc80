package utils

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/jesseduffield/kill"
	"github.com/mgutz/str"
	"github.com/sirupsen/logrus"
)

// OSCommand runs host commands for the workers that shell out, like archive
// extraction and image conversion.
type OSCommand struct {
	Log            *logrus.Entry
	command        func(string, ...string) *exec.Cmd
	commandContext func(context.Context, string, ...string) *exec.Cmd
	getenv         func(string) string
}

// NewOSCommand os command runner
func NewOSCommand(log *logrus.Entry) *OSCommand {
	return &OSCommand{
		Log:            log,
		command:        exec.Command,
		commandContext: killableCommand,
		getenv:         os.Getenv,
	}
}

// killableCommand builds a context-cancellable command that takes its whole
// process group down on cancellation. Extractors like 7z spawn helper
// processes a plain kill would orphan.
func killableCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	kill.PrepareForChildren(cmd)
	cmd.Cancel = func() error { return kill.Kill(cmd) }
	return cmd
}

// SetCommand sets the command function used by the struct, for both the
// plain and the context-cancellable paths.
// To be used for testing only
func (c *OSCommand) SetCommand(cmd func(string, ...string) *exec.Cmd) {
	c.command = cmd
	c.commandContext = func(_ context.Context, name string, args ...string) *exec.Cmd {
		return cmd(name, args...)
	}
}

// RunCommandWithOutput wrapper around commands returning their output and error
func (c *OSCommand) RunCommandWithOutput(command string) (string, error) {
	cmd := c.ExecutableFromString(command)
	before := time.Now()
	output, err := sanitisedCommandOutput(cmd.Output())
	c.Log.Debug(fmt.Sprintf("'%s': %s", command, time.Since(before)))
	return output, err
}

// RunCommandWithOutputContext is RunCommandWithOutput but cancellable via a context
func (c *OSCommand) RunCommandWithOutputContext(ctx context.Context, command string) (string, error) {
	cmd := c.ExecutableFromStringContext(ctx, command)
	before := time.Now()
	output, err := sanitisedCommandOutput(cmd.Output())
	c.Log.Debug(fmt.Sprintf("'%s': %s", command, time.Since(before)))
	return output, err
}

// RunCommand runs a command and just returns the error
func (c *OSCommand) RunCommand(command string) error {
	_, err := c.RunCommandWithOutput(command)
	return err
}

// ExecutableFromString takes a string like `qemu-img info disk.qcow2` and
// returns an executable command for it
func (c *OSCommand) ExecutableFromString(commandStr string) *exec.Cmd {
	splitCmd := str.ToArgv(commandStr)
	return c.NewCmd(splitCmd[0], splitCmd[1:]...)
}

// ExecutableFromStringContext is ExecutableFromString but cancellable via a context
func (c *OSCommand) ExecutableFromStringContext(ctx context.Context, commandStr string) *exec.Cmd {
	splitCmd := str.ToArgv(commandStr)
	return c.commandContext(ctx, splitCmd[0], splitCmd[1:]...)
}

func (c *OSCommand) NewCmd(cmdName string, commandArgs ...string) *exec.Cmd {
	cmd := c.command(cmdName, commandArgs...)
	cmd.Env = os.Environ()
	return cmd
}

func sanitisedCommandOutput(output []byte, err error) (string, error) {
	outputString := string(output)
	if err != nil {
		// errors like 'exit status 1' are not very useful so we'll create an error
		// from stderr if we got an ExitError
		exitError, ok := err.(*exec.ExitError)
		if ok && len(exitError.Stderr) > 0 {
			return outputString, errors.New(string(exitError.Stderr))
		}
		return outputString, errors.Wrap(err, 0)
	}
	return outputString, nil
}

// Quote wraps a message in quotation marks with shell metacharacters escaped
func (c *OSCommand) Quote(message string) string {
	message = strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`$`, `\$`,
		"`", "\\`",
	).Replace(message)
	return `"` + message + `"`
}

// FileExists checks whether a file exists at the specified path
func (c *OSCommand) FileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove removes a file or directory at the specified path
func (c *OSCommand) Remove(filename string) error {
	err := os.RemoveAll(filename)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
