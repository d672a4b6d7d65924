package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agent462/netmaint/internal/interpreter"
)

// Group is a set of hosts whose command returned identical output.
type Group struct {
	Hosts  []string
	Output string
	Norm   bool   // the largest group
	Diff   string // against the norm; empty for the norm itself
}

// Comparison lines up one command's output across a run.
type Comparison struct {
	Command string
	Groups  []Group
	Failed  []string // the device rejected the command
	Missing []string // the command never ran
}

// Consistent reports whether every host that ran the command agrees.
func (c *Comparison) Consistent() bool {
	return len(c.Groups) <= 1 && len(c.Failed) == 0
}

// Compare groups hosts by the output of command. A host that ran the
// command more than once is compared on its last run.
func Compare(results Results, command string) *Comparison {
	c := &Comparison{Command: command}

	byOutput := make(map[string][]string)
	var order []string
	for _, host := range sortedHosts(results) {
		entry, ok := lastRun(results[host], command)
		switch {
		case !ok:
			c.Missing = append(c.Missing, host)
		case entry.Output == nil:
			c.Failed = append(c.Failed, host)
		default:
			out := *entry.Output
			if _, seen := byOutput[out]; !seen {
				order = append(order, out)
			}
			byOutput[out] = append(byOutput[out], host)
		}
	}
	if len(order) == 0 {
		return c
	}

	// Ties go to the group holding the alphabetically first host.
	norm := order[0]
	for _, out := range order[1:] {
		if len(byOutput[out]) > len(byOutput[norm]) {
			norm = out
		}
	}

	c.Groups = append(c.Groups, Group{Hosts: byOutput[norm], Output: norm, Norm: true})
	for _, out := range order {
		if out == norm {
			continue
		}
		c.Groups = append(c.Groups, Group{
			Hosts:  byOutput[out],
			Output: out,
			Diff:   unifiedDiff(norm, out),
		})
	}
	return c
}

// ReadDump decodes a dump written by WriteDump.
func ReadDump(r io.Reader) (Results, error) {
	var results Results
	if err := json.NewDecoder(r).Decode(&results); err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}
	return results, nil
}

func lastRun(res *interpreter.HostResult, command string) (entry interpreter.CommandEntry, ok bool) {
	if res == nil {
		return entry, false
	}
	for i := len(res.Commands) - 1; i >= 0; i-- {
		if strings.TrimSpace(res.Commands[i].Command) == command {
			return res.Commands[i], true
		}
	}
	return entry, false
}

// maxDiffLines caps the LCS table; larger outputs are shown as a full
// replacement.
const maxDiffLines = 500

func unifiedDiff(norm, other string) string {
	a, b := splitLines(norm), splitLines(other)

	var out strings.Builder
	out.WriteString("--- norm\n+++ outlier\n")
	line := func(prefix, s string) {
		out.WriteString(prefix)
		out.WriteString(s)
		out.WriteByte('\n')
	}

	if len(a) > maxDiffLines || len(b) > maxDiffLines {
		for _, s := range a {
			line("-", s)
		}
		for _, s := range b {
			line("+", s)
		}
		return out.String()
	}

	i, j := 0, 0
	for _, common := range lcs(a, b) {
		for ; a[i] != common; i++ {
			line("-", a[i])
		}
		for ; b[j] != common; j++ {
			line("+", b[j])
		}
		line(" ", common)
		i++
		j++
	}
	for ; i < len(a); i++ {
		line("-", a[i])
	}
	for ; j < len(b); j++ {
		line("+", b[j])
	}
	return out.String()
}

// lcs returns the longest common subsequence of a and b.
func lcs(a, b []string) []string {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	seq := make([]string, dp[len(a)][len(b)])
	k := len(seq) - 1
	for i, j := len(a), len(b); i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			seq[k] = a[i-1]
			k--
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return seq
}
