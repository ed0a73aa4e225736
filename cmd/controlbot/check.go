package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"controlbot/internal/actions"
	"controlbot/internal/config"
)

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print the resulting command set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", *cfgPath)
			fmt.Fprintf(out, "transport: %s\n", cfg.Transport())
			fmt.Fprintf(out, "bridge: %s\n", cfg.Bridge.Addr)
			fmt.Fprintf(out, "commands: %s\n", strings.Join(enabledCommands(cfg.ControlBot), " "))
			return nil
		},
	}
}

// enabledCommands mirrors the action table filter without building handlers.
func enabledCommands(cb config.ControlBotConfig) []string {
	out := []string{"help", "timeleft"}
	if cb.Chant.Enabled {
		out = append(out, "chant")
	}
	if cb.Cows.Enabled {
		out = append(out, "cows")
	}
	if cb.Wps.Enabled {
		out = append(out, "wps")
	}
	if cb.Bo {
		out = append(out, "bo")
	}
	for _, r := range actions.Rush {
		if cb.Rush[r.Keyword] {
			out = append(out, r.Keyword)
		}
	}
	return out
}
