package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"webp-gateway/internal/logging"
	"webp-gateway/internal/startup"
)

// newRootCmd builds the command tree. cfg is filled in before any
// subcommand runs.
func newRootCmd() *cobra.Command {
	var cfg startup.Config

	root := &cobra.Command{
		Use:   "webp-gateway",
		Short: "Serve images as WebP to clients that accept it",
		Long: `webp-gateway serves a directory of images over HTTP. Clients that send
Accept: image/webp receive a WebP rendition, converted on first request and
cached on disk.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", startup.Version, startup.Commit, startup.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configFile, _ := cmd.Flags().GetString("config")

			v := viper.New()
			if err := startup.ReadConfig(v, configFile, cmd.Flags()); err != nil {
				return err
			}
			loaded, err := startup.Load(v)
			if err != nil {
				return err
			}
			cfg = *loaded

			logging.Setup(os.Stderr, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path (default: ./config.yaml)")
	flags.String("public-dir", "", "directory of source images (default: ./public, env: WEBP_PUBLIC_DIR)")
	flags.String("cache-path", "", "artifact directory (default: ./cache, env: WEBP_WEBP_CACHE_PATH)")
	flags.String("converter", "", "converter: cwebp, vips (default: cwebp, env: WEBP_WEBP_CONVERTER)")
	flags.String("cwebp-path", "", "cwebp binary (default: cwebp, env: WEBP_WEBP_CWEBP_PATH)")
	flags.Int("quality", 0, "vips WebP quality 1-100 (default: 75, env: WEBP_WEBP_QUALITY)")
	flags.Duration("timeout", 0, "per-conversion timeout, negative for none (default: 60s, env: WEBP_WEBP_TIMEOUT)")
	flags.Int("workers", 0, "concurrent conversions (default: one per CPU, env: WEBP_WEBP_WORKERS)")
	flags.Bool("index", true, "keep the SQLite artifact index (env: WEBP_INDEX_ENABLED)")
	flags.String("index-path", "", "artifact index file (default: <cache-path>/.webp-index.db, env: WEBP_INDEX_PATH)")
	flags.String("log-level", "", "log level: debug, info, warn, error (env: WEBP_LOG_LEVEL)")
	flags.String("log-format", "", "log format: text, json (env: WEBP_LOG_FORMAT)")

	root.AddCommand(
		newServeCmd(&cfg),
		newConvertCmd(&cfg),
		newCacheCmd(&cfg),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Fatal("%v", err)
	}
}
