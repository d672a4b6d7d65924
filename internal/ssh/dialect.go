package ssh

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Dialect is the device-family command syntax used for framing and
// error detection.
type Dialect struct {
	Name string

	// ErrorPrompts are added to the session's error prompts when the
	// dialect is detected.
	ErrorPrompts []*regexp.Regexp

	ConfigEnter string
	ConfigExit  string
	Save        string
}

// DefaultDialect is used when the probe matches nothing.
const DefaultDialect = "ios"

var dialects = map[string]Dialect{
	"ios": {
		Name:        "ios",
		ConfigEnter: "configure terminal",
		ConfigExit:  "end",
		Save:        "write memory",
	},
	"nxos": {
		Name: "nxos",
		ErrorPrompts: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^% invalid command`),
			regexp.MustCompile(`(?i)^% invalid parameter`),
		},
		ConfigEnter: "configure terminal",
		ConfigExit:  "end",
		Save:        "copy running-config startup-config",
	},
}

// LookupDialect returns the registered dialect for name.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[strings.ToLower(name)]
	return d, ok
}

// Dialects lists registered dialect names in sorted order.
func Dialects() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wrap applies configuration-mode and save framing to a copy of cmds.
// The caller's slice is never modified.
func (d Dialect) Wrap(cmds []string, confMode, save bool) []string {
	out := make([]string, 0, len(cmds)+3)
	if confMode {
		out = append(out, d.ConfigEnter)
	}
	out = append(out, cmds...)
	if confMode {
		out = append(out, d.ConfigExit)
	}
	if save {
		out = append(out, d.Save)
	}
	return out
}

// signature ties a substring of "show version" output to a dialect.
type signature struct {
	marker  string
	dialect string
}

// Order matters: IOS-XE output also names IOS, and both resolve to ios.
var probeSignatures = []signature{
	{" IOS ", "ios"},
	{" (NX-OS) ", "nxos"},
	{" IOS-XE ", "ios"},
}

// ProbeCommand is run right after login to identify the dialect.
const ProbeCommand = "show version"

// DetectDialect matches probe output against the known signatures.
func DetectDialect(output string) (Dialect, error) {
	for _, sig := range probeSignatures {
		if strings.Contains(output, sig.marker) {
			d, _ := LookupDialect(sig.dialect)
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("%w: no known signature in %q output", ErrUnsupportedProbe, ProbeCommand)
}
