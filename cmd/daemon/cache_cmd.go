// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirrus7/ready-or-not-sub011/internal/daemon"
)

func newCacheCmd(load configLoadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the durable media cache",
	}

	withMedia := func(fn func(context.Context, *cobra.Command, *daemon.Runtime) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := daemon.OpenMedia(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()
			return fn(ctx, cmd, rt)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the number of cached blobs",
		Args:  cobra.NoArgs,
		RunE: withMedia(func(ctx context.Context, cmd *cobra.Command, rt *daemon.Runtime) error {
			keys, err := rt.Blobs.Keys(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d blobs cached (backend: %s)\n", len(keys), rt.Blobs.Backend())
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached blob",
		Args:  cobra.NoArgs,
		RunE: withMedia(func(ctx context.Context, cmd *cobra.Command, rt *daemon.Runtime) error {
			if err := rt.Media.ClearBulkDownloadCache(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "media cache cleared")
			return nil
		}),
	})
	return cmd
}
