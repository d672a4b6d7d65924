package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent462/netmaint/internal/maintenance"
)

var validateCmd = &cobra.Command{
	Use:   "validate <maintenance> [maintenance2 ...]",
	Short: "Validate one or more maintenance files",
	Long: `Parse and validate maintenance files without connecting to any device.

This checks for:
  - Valid YAML, TOML, XML or JSON syntax
  - A hostname on every action
  - No pause points in a maintenance marked mp_compat

Examples:
  netmaint validate uplinks.xml
  netmaint validate maint/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateMaintenances,
}

func validateMaintenances(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var hasErrors bool

	for _, path := range args {
		m, err := maintenance.Load(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL: %s - %v\n", path, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(out, "OK: %s (%d actions, %d hosts, mp_compat=%t)\n", path, len(m.Actions), len(m.Hosts()), m.MPCompat)
	}

	if hasErrors {
		return fmt.Errorf("one or more maintenance files failed validation")
	}

	fmt.Fprintf(out, "\nAll %d maintenance file(s) valid.\n", len(args))
	return nil
}
