package interpreter

import (
	"encoding/json"
	"fmt"

	"github.com/agent462/netmaint/internal/logging"
)

// CommandEntry pairs a command label with its output. A nil Output marks
// a failed command.
type CommandEntry struct {
	Command string
	Output  *string
}

// Failed reports whether the command failed.
func (c CommandEntry) Failed() bool {
	return c.Output == nil
}

// MarshalJSON encodes the entry as a single-key object
// {"<command>": "<output>"} with null for failures.
func (c CommandEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]*string{c.Command: c.Output})
}

func (c *CommandEntry) UnmarshalJSON(data []byte) error {
	var m map[string]*string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("command entry: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("command entry: want exactly one key, got %d", len(m))
	}
	for k, v := range m {
		c.Command, c.Output = k, v
	}
	return nil
}

// HostResult is the outcome of one maintenance run on one device.
type HostResult struct {
	Driver        string          `json:"driver"`
	StatusOK      bool            `json:"status_ok"`
	AllCommandsOK bool            `json:"all_commands_ok"`
	Commands      []CommandEntry  `json:"commands"`
	Logs          []logging.Entry `json:"logs"`
}

// UnknownDriver is the driver recorded before a session exists.
const UnknownDriver = "default"

// NewHostResult returns a result in its initial, optimistic state.
func NewHostResult() *HostResult {
	return &HostResult{
		Driver:        UnknownDriver,
		StatusOK:      true,
		AllCommandsOK: true,
		Commands:      []CommandEntry{},
		Logs:          []logging.Entry{},
	}
}

// Degraded builds a result for a host whose run never started, carrying
// one critical entry.
func Degraded(format string, args ...any) *HostResult {
	r := NewHostResult()
	r.StatusOK = false
	r.Logf(logging.Critical, format, args...)
	return r
}

// Logf appends a host log entry.
func (r *HostResult) Logf(s logging.Severity, format string, args ...any) {
	r.Logs = append(r.Logs, logging.Entryf(s, format, args...))
}

func (r *HostResult) record(command, output string) {
	r.Commands = append(r.Commands, CommandEntry{Command: command, Output: &output})
}

func (r *HostResult) recordFailure(command string) {
	r.AllCommandsOK = false
	r.Commands = append(r.Commands, CommandEntry{Command: command})
}

// FailedCommands counts entries without output.
func (r *HostResult) FailedCommands() int {
	n := 0
	for _, c := range r.Commands {
		if c.Failed() {
			n++
		}
	}
	return n
}
