package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"paybridge/internal/config"
)

func driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List configured payment drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.Payment.Drivers))
			for name := range cfg.Payment.Drivers {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				state := "disabled"
				if cfg.Payment.Drivers[name].Enabled {
					state = "enabled"
				}
				marker := " "
				if name == cfg.Payment.DefaultDriver {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-14s %s\n", marker, name, state)
			}
			return nil
		},
	}
}
