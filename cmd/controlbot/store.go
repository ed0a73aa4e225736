package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	"controlbot/internal/storage"
	logx "controlbot/pkg/logx"
)

func openStore(cfgPath string) (*config.Config, storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage == nil {
		return cfg, nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return nil, nil, err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logx.NewConsole("warn"))
	return cfg, st, err
}

func newBlocklistCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Inspect or extend the block list",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print blocked players from the block list file and storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			bl := controlbot.NewBlockList()
			if path := strings.TrimSpace(cfg.ControlBot.ShitListFile); path != "" {
				f, err := os.Open(path)
				switch {
				case err == nil:
					_, err = bl.Seed(f)
					f.Close()
					if err != nil {
						return err
					}
				case !errors.Is(err, os.ErrNotExist):
					return err
				}
			}
			if st != nil {
				defer st.Close()
				names, err := st.Blocked(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range names {
					bl.Add(n)
				}
			}
			for _, n := range bl.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	var reason string
	add := &cobra.Command{
		Use:   "add NAME...",
		Short: "Persist players to the block list storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer st.Close()
			for _, n := range args {
				if err := st.AddBlocked(cmd.Context(), n, reason); err != nil {
					return fmt.Errorf("add %s: %w", n, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d\n", len(args))
			return nil
		},
	}
	add.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the entry")

	cmd.AddCommand(list, add)
	return cmd
}

func newAuditCmd(cfgPath *string) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent command outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer st.Close()
			entries, err := st.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s %-12s %-10s %-14s %dms", e.At.Local().Format(time.DateTime), e.Requester, e.Keyword, e.Outcome, e.TookMS)
				if e.Error != "" {
					line += " " + e.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	return cmd
}
