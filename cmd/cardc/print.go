package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cardc/internal/ir"
)

var printCmd = &cobra.Command{
	Use:   "print [flags] module.mp",
	Short: "Print the SSA of a module dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := readModule(args[0])
		if err != nil {
			return err
		}
		only, _ := cmd.Flags().GetString("func")
		out := cmd.OutOrStdout()
		printed := 0
		for _, f := range m.Funcs {
			if only != "" && f.Name != only {
				continue
			}
			if printed > 0 {
				fmt.Fprintln(out)
			}
			if err := ir.Print(out, f); err != nil {
				return err
			}
			printed++
		}
		if only != "" && printed == 0 {
			return fmt.Errorf("no function named %q", only)
		}
		return nil
	},
}

func init() {
	printCmd.Flags().String("func", "", "print only this function")
}
