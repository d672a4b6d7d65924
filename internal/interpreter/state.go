package interpreter

import (
	"strconv"
	"strings"
)

// Directives recognised in a command list.
const (
	DirectiveMultilineStart = "--multiline-start"
	DirectiveMultilineStop  = "--multiline-stop"
	DirectiveSleepPrefix    = "--sleep-"
	DirectivePause          = "--pause"
	DirectiveIgnoreError    = "--ignore-error"
	DirectivePrintNext      = "--print-next"
	directivePrefix         = "--"
)

// DefaultSleepSeconds replaces an unparsable --sleep-N value.
const DefaultSleepSeconds = 5

// State carries the interpreter's flags between lines. PrintNext and
// IgnoreError apply to the next literal command only.
type State struct {
	PrintNext   bool
	Multiline   bool
	IgnoreError bool
	Buffer      []string
}

// EffectKind says what the interpreter must do for one line.
type EffectKind int

const (
	EffectMultilineStart EffectKind = iota
	EffectMultilineLine
	EffectMultilineStop
	EffectSleep
	EffectPause
	EffectIgnoreError
	EffectPrintNext
	EffectUnknownDirective
	EffectCommand
)

var effectNames = map[EffectKind]string{
	EffectMultilineStart:   "multiline-start",
	EffectMultilineLine:    "multiline-line",
	EffectMultilineStop:    "multiline-stop",
	EffectSleep:            "sleep",
	EffectPause:            "pause",
	EffectIgnoreError:      "ignore-error",
	EffectPrintNext:        "print-next",
	EffectUnknownDirective: "unknown-directive",
	EffectCommand:          "command",
}

func (k EffectKind) String() string {
	if name, ok := effectNames[k]; ok {
		return name
	}
	return "effect(" + strconv.Itoa(int(k)) + ")"
}

// Effect is the action Step asks for.
type Effect struct {
	Kind EffectKind

	// Line is the input with line endings trimmed: the command to send,
	// the multiline line, or the directive itself.
	Line string

	// Label is the multiline block label for EffectMultilineStop.
	Label string

	// Seconds and BadValue describe EffectSleep. BadValue holds the
	// unparsable text when Seconds fell back to the default.
	Seconds  int
	BadValue string

	// PrintOutput and IgnoreError are the one-shot flags consumed by an
	// EffectCommand.
	PrintOutput bool
	IgnoreError bool
}

// Step classifies line against s and returns the next state. It has no
// side effects; s is never modified.
func Step(s State, line string) (State, Effect) {
	command := strings.Trim(line, "\r\n")
	keyword := strings.TrimSpace(command)
	next := s

	switch {
	case keyword == DirectiveMultilineStop:
		next.Multiline = false
		next.Buffer = nil
		return next, Effect{
			Kind:  EffectMultilineStop,
			Line:  keyword,
			Label: strings.Join(s.Buffer, " :: "),
		}

	case strings.HasPrefix(keyword, DirectiveSleepPrefix):
		raw := strings.TrimPrefix(keyword, DirectiveSleepPrefix)
		eff := Effect{Kind: EffectSleep, Line: keyword}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			eff.Seconds = DefaultSleepSeconds
			eff.BadValue = raw
		} else {
			eff.Seconds = n
		}
		return next, eff

	case keyword == DirectiveMultilineStart:
		next.Multiline = true
		next.Buffer = nil
		return next, Effect{Kind: EffectMultilineStart, Line: keyword}

	case keyword == DirectivePause:
		return next, Effect{Kind: EffectPause, Line: keyword}

	case keyword == DirectiveIgnoreError:
		next.IgnoreError = true
		return next, Effect{Kind: EffectIgnoreError, Line: keyword}

	case keyword == DirectivePrintNext:
		next.PrintNext = true
		return next, Effect{Kind: EffectPrintNext, Line: keyword}

	case strings.HasPrefix(keyword, directivePrefix):
		return next, Effect{Kind: EffectUnknownDirective, Line: keyword}

	case s.Multiline:
		buf := make([]string, len(s.Buffer), len(s.Buffer)+1)
		copy(buf, s.Buffer)
		next.Buffer = append(buf, command)
		return next, Effect{Kind: EffectMultilineLine, Line: command}
	}

	next.PrintNext = false
	next.IgnoreError = false
	return next, Effect{
		Kind:        EffectCommand,
		Line:        command,
		PrintOutput: s.PrintNext,
		IgnoreError: s.IgnoreError,
	}
}
