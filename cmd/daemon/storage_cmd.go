// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirrus7/ready-or-not-sub011/internal/persistence/sqlite"
)

// knownDatabases are the SQLite files the daemon creates under the data dir.
var knownDatabases = []string{
	filepath.Join("media", "media_blobs.sqlite"),
	"settings.db",
}

func newStorageCmd(load configLoadFunc) *cobra.Command {
	var path, mode string
	var all bool

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check SQLite database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("invalid mode %q, use quick or full", mode)
			}
			if !all && path == "" {
				return errors.New("--path or --all is required")
			}

			paths := []string{path}
			if all {
				_, cfg, err := load()
				if err != nil {
					return err
				}
				paths = paths[:0]
				for _, name := range knownDatabases {
					p := filepath.Join(cfg.DataDir, name)
					if _, err := os.Stat(p); err == nil {
						paths = append(paths, p)
					}
				}
				if len(paths) == 0 {
					return fmt.Errorf("no databases found in %s", cfg.DataDir)
				}
			}

			var failed bool
			for _, p := range paths {
				if err := verifyDatabase(cmd, p, mode); err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, err)
					failed = true
				}
			}
			if failed {
				return errors.New("integrity check failed")
			}
			return nil
		},
	}
	verify.Flags().StringVar(&path, "path", "", "path to a SQLite database file")
	verify.Flags().BoolVar(&all, "all", false, "verify every known database in the data dir")
	verify.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Storage maintenance",
	}
	cmd.AddCommand(verify)
	return cmd
}

func verifyDatabase(cmd *cobra.Command, path, mode string) error {
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "verifying %s (mode: %s)\n", path, mode)
	issues, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
	if err != nil {
		return fmt.Errorf("verification interrupted: %w", err)
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", issue)
		}
		return fmt.Errorf("%d integrity issues", len(issues))
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	return nil
}
