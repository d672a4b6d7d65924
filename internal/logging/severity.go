package logging

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Severity is the level attached to a host log entry.
type Severity int8

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Critical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

// Severities lists every severity from lowest to highest.
func Severities() []Severity {
	return []Severity{Debug, Info, Warning, Error, Critical}
}

func (s Severity) String() string {
	if s < Debug || s > Critical {
		return fmt.Sprintf("severity(%d)", int8(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the lower-case names plus "warn" and "fatal"
// aliases, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	case "critical", "fatal":
		return Critical, nil
	}
	return Debug, fmt.Errorf("unknown severity %q, must be one of: %s", name, strings.Join(severityNames[:], ", "))
}

func (s Severity) MarshalText() ([]byte, error) {
	if s < Debug || s > Critical {
		return nil, fmt.Errorf("invalid severity %d", int8(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Level maps s to a zap level. Critical has no zap equivalent that
// leaves the process running, so it shares the error level.
func (s Severity) Level() zapcore.Level {
	switch s {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Entry is one (severity, message) pair collected for a host.
type Entry struct {
	Severity Severity
	Message  string
}

// Entryf builds an Entry with a formatted message.
func Entryf(s Severity, format string, args ...any) Entry {
	return Entry{Severity: s, Message: fmt.Sprintf(format, args...)}
}

// MarshalJSON encodes the entry as a two-element array
// ["severity", "message"].
func (e Entry) MarshalJSON() ([]byte, error) {
	sev, err := e.Severity.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]string{string(sev), e.Message})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("log entry: %w", err)
	}
	if err := e.Severity.UnmarshalText([]byte(pair[0])); err != nil {
		return err
	}
	e.Message = pair[1]
	return nil
}

// Count tallies entries per severity.
func Count(entries []Entry) map[Severity]int {
	counts := make(map[Severity]int, len(severityNames))
	for _, s := range Severities() {
		counts[s] = 0
	}
	for _, e := range entries {
		counts[e.Severity]++
	}
	return counts
}
