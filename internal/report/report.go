// Package report writes the artifacts of a maintenance run: the raw JSON
// dump, the command transcript, the spreadsheet summary and the console
// summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agent462/netmaint/internal/interpreter"
	"github.com/agent462/netmaint/internal/pathutil"
)

// Results is a merged run, keyed by hostname.
type Results = map[string]*interpreter.HostResult

// Artifacts names the files one run produces.
type Artifacts struct {
	Dump        string
	Transcript  string
	Summary     string
	Maintenance string
}

// NewArtifacts names every artifact in dir for a run of source started
// at t.
func NewArtifacts(dir, source string, t time.Time) Artifacts {
	ts := pathutil.Stamp(t)
	return Artifacts{
		Dump:        filepath.Join(dir, "dump_"+ts+".txt"),
		Transcript:  filepath.Join(dir, "cmd_"+ts+".txt"),
		Summary:     filepath.Join(dir, pathutil.BaseName(source)+"_"+ts+".xlsx"),
		Maintenance: filepath.Join(dir, "maintenance.txt"),
	}
}

// WriteDump writes results as indented JSON.
func WriteDump(w io.Writer, results Results) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("writing dump: %w", err)
	}
	return nil
}

const indent = "    "

// WriteTranscript writes every host's commands and their output:
//
//	Host : sw1
//	    CMD: show clock
//	        12:00:00 UTC
//
// Failed commands are listed without output.
func WriteTranscript(w io.Writer, results Results) error {
	var b strings.Builder
	for _, host := range sortedHosts(results) {
		fmt.Fprintf(&b, "Host : %s\n", host)
		for _, c := range results[host].Commands {
			fmt.Fprintf(&b, "%sCMD: %s\n", indent, c.Command)
			if c.Output == nil {
				continue
			}
			for _, line := range splitLines(*c.Output) {
				b.WriteString(indent + indent + line + "\n")
			}
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func sortedHosts(results Results) []string {
	hosts := make([]string, 0, len(results))
	for h := range results {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
