package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/startup"
)

func newCacheCmd(cfg *startup.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the artifact cache",
	}
	cmd.AddCommand(
		newCacheStatsCmd(cfg),
		newCacheClearCmd(cfg),
		newCachePruneCmd(cfg),
	)
	return cmd
}

func newCacheStatsCmd(cfg *startup.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print artifact counts and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := openGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer g.Close()

			st, err := g.mw.Store().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:      %s\n", st.Root)
			fmt.Fprintf(out, "artifacts: %d\n", st.Artifacts)
			fmt.Fprintf(out, "size:      %d bytes\n", st.SizeBytes)
			if g.db != nil {
				fmt.Fprintf(out, "indexed:   %d\n", st.Indexed)
			}
			return nil
		},
	}
}

func newCacheClearCmd(cfg *startup.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := openGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer g.Close()

			freed, err := g.mw.Store().Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifacts, freed %d bytes\n", freed.Artifacts, freed.SizeBytes)
			return nil
		},
	}
}

func newCachePruneCmd(cfg *startup.Config) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove orphaned and stale artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := openGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer g.Close()

			result, err := g.mw.Store().Prune(cmd.Context(), cache.PruneOptions{
				SourceRoot:           g.mw.PublicPath(),
				ConverterFingerprint: g.mw.Converter().Fingerprint(),
				Verify:               verify,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scanned %d, removed %d, freed %d bytes\n", result.Scanned, result.Total(), result.FreedBytes)

			reasons := make([]string, 0, len(result.Removed))
			for reason := range result.Removed {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			for _, reason := range reasons {
				fmt.Fprintf(out, "  %s: %d\n", reason, result.Removed[reason])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "also remove artifacts that do not decode as WebP")
	return cmd
}
