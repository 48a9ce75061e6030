// Package bluetooth answers whether a wireless keyboard is paired with the
// host, through BlueZ on Linux or the platform's own command line tools.
package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"go.olrik.dev/invigilator/internal/integrity"
)

// command is a platform query and how to read its output
type command struct {
	name  string
	args  []string
	parse func(out []byte) bool
}

var commands = map[string]command{
	"linux": {
		name:  "bluetoothctl",
		args:  []string{"devices", "Paired"},
		parse: containsKeyboard,
	},
	"darwin": {
		name:  "system_profiler",
		args:  []string{"SPBluetoothDataType"},
		parse: containsKeyboard,
	},
	"windows": {
		name: "powershell",
		args: []string{
			"-NoProfile", "-Command",
			"Get-PnpDevice | Where-Object {$_.Class -eq 'Keyboard' -and $_.Service -eq 'BTHUSB'}",
		},
		parse: nonEmpty,
	},
}

// RunFunc runs a command and returns its standard output
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandQuery implements integrity.WirelessQuery by running the
// platform's Bluetooth listing tool.
type CommandQuery struct {
	goos   string
	run    RunFunc
	logger *slog.Logger
}

var _ integrity.WirelessQuery = (*CommandQuery)(nil)

// NewCommandQuery creates a query for the running OS
func NewCommandQuery(logger *slog.Logger) *CommandQuery {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandQuery{
		goos:   runtime.GOOS,
		run:    runCommand,
		logger: logger,
	}
}

// KeyboardPaired runs the platform command. The context bounds how long
// the command may run.
func (q *CommandQuery) KeyboardPaired(ctx context.Context) (bool, error) {
	cmd, ok := commands[q.goos]
	if !ok {
		return false, fmt.Errorf("wireless keyboard query on %s: %w", q.goos, integrity.ErrUnsupportedPlatform)
	}

	out, err := q.run(ctx, cmd.name, cmd.args...)
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", cmd.name, err)
	}

	paired := cmd.parse(out)
	q.logger.Debug("Wireless keyboard query finished", "command", cmd.name, "paired", paired)
	return paired, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

func containsKeyboard(out []byte) bool {
	return strings.Contains(strings.ToLower(string(out)), "keyboard")
}

func nonEmpty(out []byte) bool {
	return strings.TrimSpace(string(out)) != ""
}
