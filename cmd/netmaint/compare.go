package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agent462/netmaint/internal/report"
)

var compareCmd = &cobra.Command{
	Use:   "compare <dump> <command>",
	Short: "Compare one command's output across the switches of a past run",
	Long: `Read a dump written by "netmaint run" and group the switches by the
output they returned for a command. The largest group is the norm; every
other group is shown as a diff against it.

Exits non-zero when the switches disagree or a switch rejected the command.

Examples:
  netmaint compare reports/dump_240301_140509.txt "show version"`,
	Args: cobra.ExactArgs(2),
	RunE: compareOutputs,
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

func compareOutputs(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	results, err := report.ReadDump(f)
	if err != nil {
		return err
	}

	c := report.Compare(results, strings.TrimSpace(args[1]))
	if len(c.Groups) == 0 && len(c.Failed) == 0 {
		return fmt.Errorf("no host ran %q", c.Command)
	}
	fmt.Fprint(cmd.OutOrStdout(), report.NewFormatter(false, false, useColor()).FormatComparison(c))
	if !c.Consistent() {
		return fmt.Errorf("%q differs across hosts", c.Command)
	}
	return nil
}
