package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"webp-gateway/internal/logging"
	"webp-gateway/internal/metrics"
	"webp-gateway/internal/startup"
	"webp-gateway/internal/webp"
)

// convertSummary counts Ensure outcomes for a batch.
type convertSummary struct {
	converted atomic.Int64
	hit       atomic.Int64
	shared    atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func newConvertCmd(cfg *startup.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "convert [path...]",
		Short: "Convert images ahead of the first request",
		Long: `convert walks the given paths, relative to the public directory, and
converts every eligible image that has no fresh artifact. With no paths the
whole public directory is converted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, err := openGateway(ctx, cfg)
			if err != nil {
				return err
			}
			defer g.Close()

			if len(args) == 0 {
				args = []string{"/"}
			}

			start := time.Now()
			var sum convertSummary
			if err := convertPaths(ctx, g.mw, args, &sum); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "converted %d, fresh %d, shared %d, skipped %d, failed %d in %v\n",
				sum.converted.Load(), sum.hit.Load(), sum.shared.Load(), sum.skipped.Load(), sum.failed.Load(),
				time.Since(start).Round(time.Millisecond))

			if n := sum.failed.Load(); n > 0 {
				return fmt.Errorf("%d conversions failed", n)
			}
			return nil
		},
	}
}

// convertPaths runs Ensure for every eligible file below each URL path, at
// most one goroutine per pool worker. Failed conversions are counted and
// logged, not returned.
func convertPaths(ctx context.Context, mw *webp.Middleware, urlPaths []string, sum *convertSummary) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(mw.Pool().Size())

	for _, p := range urlPaths {
		root := path.Clean("/" + filepath.ToSlash(p))
		local := filepath.Join(mw.PublicPath(), filepath.FromSlash(root))

		err := filepath.WalkDir(local, func(fsPath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := egCtx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(mw.PublicPath(), fsPath)
			if err != nil {
				return err
			}
			urlPath := "/" + filepath.ToSlash(rel)
			if !mw.Eligible(urlPath) {
				sum.skipped.Add(1)
				return nil
			}

			eg.Go(func() error {
				art, err := mw.Ensure(egCtx, urlPath)
				if err != nil {
					if egCtx.Err() != nil {
						return egCtx.Err()
					}
					sum.failed.Add(1)
					logging.Error("Failed to convert %s: %v", urlPath, err)
					return nil
				}
				switch art.Outcome {
				case metrics.OutcomeHit:
					sum.hit.Add(1)
				case metrics.OutcomeShared:
					sum.shared.Add(1)
				default:
					sum.converted.Add(1)
				}
				logging.Debug("%s: %s", art.URLPath, art.Outcome)
				return nil
			})
			return nil
		})
		if err != nil {
			_ = eg.Wait()
			return fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	return eg.Wait()
}
