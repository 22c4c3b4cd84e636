package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pq/internal/engine"
)

func newRulesCommand() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule pack files",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML rule pack without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rule pack: %w", err)
			}
			pack, err := engine.ParseRulePack(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rule := range pack {
				warnings, _ := engine.ValidateRule(rule)
				for _, warning := range warnings {
					fmt.Fprintf(out, "warning: %s: %s\n", rule.Name, warning)
				}
			}
			fmt.Fprintf(out, "%s: %d rules ok\n", args[0], len(pack))
			return nil
		},
	})
	return rules
}
