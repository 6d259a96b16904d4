// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirrus7/ready-or-not-sub011/internal/daemon"
	xglog "github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
)

func newPrefetchCmd(load configLoadFunc) *cobra.Command {
	var gameVersion, userType string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download every asset of a game version into the media cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gameVersion == "" {
				return errors.New("--version is required")
			}
			_, cfg, err := load()
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.Media.BulkConcurrency
			}

			ctx, stop := daemon.WaitForShutdown()
			defer stop()

			rt, err := daemon.OpenMedia(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()

			logger := xglog.WithComponent("prefetch")
			final, err := rt.Media.BulkDownloadVersion(ctx, media.BulkOptions{
				Concurrency: concurrency,
				Version:     gameVersion,
				UserType:    userType,
				OnProgress: func(p media.BulkProgress) {
					logger.Info().
						Int("downloaded", p.Downloaded).
						Int("total", p.Total).
						Str(xglog.FieldPath, p.CurrentFile).
						Msg("progress")
				},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "downloaded %d/%d assets of %s/%s\n", final.Downloaded, final.Total, gameVersion, userType)
			for _, e := range final.Errors {
				_, _ = fmt.Fprintf(out, "  failed: %s\n", e)
			}
			if len(final.Errors) > 0 {
				return fmt.Errorf("%d assets failed", len(final.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gameVersion, "version", "", "game version to prefetch")
	cmd.Flags().StringVar(&userType, "user-type", "host", "asset set to prefetch (host, presentation, team)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel downloads (default from config)")
	return cmd
}
