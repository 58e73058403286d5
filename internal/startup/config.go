package startup

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"webp-gateway/internal/logging"
	"webp-gateway/internal/mediatypes"
)

// EnvPrefix prefixes every environment variable read by ReadConfig.
const EnvPrefix = "WEBP"

// DefaultIndexName is the index file created inside the cache directory when
// index.path is not set.
const DefaultIndexName = ".webp-index.db"

// Config is the root configuration of the gateway.
type Config struct {
	Server    ServerConfig `mapstructure:"server"`
	PublicDir string       `mapstructure:"public_dir" validate:"required"`
	WebP      WebPConfig   `mapstructure:"webp"`
	Index     IndexConfig  `mapstructure:"index"`
	Log       LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the listener configuration.
type ServerConfig struct {
	Port           int  `mapstructure:"port" validate:"required,min=1,max=65535"`
	MetricsPort    int  `mapstructure:"metrics_port" validate:"required,min=1,max=65535"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// WebPConfig configures conversion and the middleware.
type WebPConfig struct {
	MimeTypes     []string      `mapstructure:"mime_types" validate:"required,min=1,dive,required,contains=/"`
	ServeImages   bool          `mapstructure:"serve_images"`
	CachePath     string        `mapstructure:"cache_path" validate:"required"`
	Converter     string        `mapstructure:"converter" validate:"required,oneof=cwebp vips"`
	CWebPPath     string        `mapstructure:"cwebp_path" validate:"required_if=Converter cwebp"`
	ConverterArgs []string      `mapstructure:"converter_args"`
	Quality       int           `mapstructure:"quality" validate:"min=1,max=100"`
	Lossless      bool          `mapstructure:"lossless"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Workers       int           `mapstructure:"workers" validate:"min=0"`
	ServerName    string        `mapstructure:"server_name"`
}

// IndexConfig configures the artifact index.
type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level        string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format       string `mapstructure:"format" validate:"required,oneof=text json"`
	StaticFiles  bool   `mapstructure:"static_files"`
	HealthChecks bool   `mapstructure:"health_checks"`
}

// flagToViperKey maps CLI flag names to configuration keys.
var flagToViperKey = map[string]string{
	"port":         "server.port",
	"metrics-port": "server.metrics_port",
	"metrics":      "server.metrics_enabled",
	"public-dir":   "public_dir",
	"cache-path":   "webp.cache_path",
	"converter":    "webp.converter",
	"cwebp-path":   "webp.cwebp_path",
	"quality":      "webp.quality",
	"timeout":      "webp.timeout",
	"workers":      "webp.workers",
	"index":        "index.enabled",
	"index-path":   "index.path",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("public_dir", "./public")

	v.SetDefault("webp.mime_types", mediatypes.DefaultConvertible)
	v.SetDefault("webp.serve_images", true)
	v.SetDefault("webp.cache_path", "./cache")
	v.SetDefault("webp.converter", "cwebp")
	v.SetDefault("webp.cwebp_path", "cwebp")
	v.SetDefault("webp.converter_args", []string{})
	v.SetDefault("webp.quality", 75)
	v.SetDefault("webp.lossless", false)
	v.SetDefault("webp.timeout", 60*time.Second)
	v.SetDefault("webp.workers", 0) // 0 means one per CPU
	v.SetDefault("webp.server_name", "webp-gateway")

	v.SetDefault("index.enabled", true)
	v.SetDefault("index.path", "") // empty means <cache_path>/.webp-index.db

	v.SetDefault("log.level", logging.GetLevel().String()) // LOG_LEVEL and DEBUG still apply
	v.SetDefault("log.format", "text")
	v.SetDefault("log.static_files", false)
	v.SetDefault("log.health_checks", true)
}

// bindFlags binds explicitly set flags to their configuration keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagToViperKey[f.Name]
		if ok && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	})
}

// ReadConfig layers configuration sources onto v.
// Order of precedence (highest to lowest): flags > env > config file > defaults.
// An empty configFile looks for config.yaml in the working directory; a
// missing default file is not an error.
func ReadConfig(v *viper.Viper, configFile string, flags *pflag.FlagSet) error {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}
	return nil
}

// Load unmarshals v into a Config, resolves paths and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var err error
	if cfg.PublicDir, err = filepath.Abs(cfg.PublicDir); err != nil {
		return nil, fmt.Errorf("failed to resolve public directory path: %w", err)
	}
	if cfg.WebP.CachePath, err = filepath.Abs(cfg.WebP.CachePath); err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = filepath.Join(cfg.WebP.CachePath, DefaultIndexName)
	} else if cfg.Index.Path, err = filepath.Abs(cfg.Index.Path); err != nil {
		return nil, fmt.Errorf("failed to resolve index path: %w", err)
	}

	return &cfg, nil
}

// LogConfiguration prints the banner, system information and the resolved
// configuration.
func LogConfiguration(cfg *Config) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  public_dir:           %s", cfg.PublicDir)
	logging.Info("  server.port:          %d", cfg.Server.Port)
	logging.Info("  server.metrics_port:  %d", cfg.Server.MetricsPort)
	logging.Info("  webp.cache_path:      %s", cfg.WebP.CachePath)
	logging.Info("  webp.mime_types:      %s", strings.Join(cfg.WebP.MimeTypes, ", "))
	logging.Info("  webp.serve_images:    %v", cfg.WebP.ServeImages)
	logging.Info("  webp.converter:       %s", cfg.WebP.Converter)
	if cfg.WebP.Converter == "vips" {
		logging.Info("  webp.quality:         %d", cfg.WebP.Quality)
		logging.Info("  webp.lossless:        %v", cfg.WebP.Lossless)
	} else {
		logging.Info("  webp.cwebp_path:      %s", cfg.WebP.CWebPPath)
		logging.Info("  webp.converter_args:  %s", strings.Join(cfg.WebP.ConverterArgs, " "))
	}
	logging.Info("  webp.timeout:         %s", timeoutString(cfg.WebP.Timeout))
	logging.Info("  webp.workers:         %d", cfg.WebP.Workers)
	logging.Info("  index.enabled:        %v", cfg.Index.Enabled)
	logging.Info("  index.path:           %s", cfg.Index.Path)
	logging.Info("  log.level:            %s", cfg.Log.Level)
	logging.Info("  log.format:           %s", cfg.Log.Format)
}

func timeoutString(d time.Duration) string {
	if d < 0 {
		return "none"
	}
	return d.String()
}

// PrepareDirectories checks the public directory and creates the cache
// directory. A missing public directory only warns; an unwritable cache
// directory is fatal.
func PrepareDirectories(cfg *Config) error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	if err := ensureDirectory(cfg.PublicDir, "public"); err != nil {
		logging.Warn("  Public directory issue: %v", err)
	}

	if err := ensureDirectory(cfg.WebP.CachePath, "cache"); err != nil {
		return fmt.Errorf("cache directory error: %w", err)
	}

	logging.Debug("  Testing cache directory write access...")
	if err := testWriteAccess(cfg.WebP.CachePath); err != nil {
		return fmt.Errorf("cache directory is not writable: %w", err)
	}
	logging.Info("  [OK] Cache directory is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Direct serving: %s", enabledString(cfg.WebP.ServeImages))
	logging.Info("    Index:          %s", enabledString(cfg.Index.Enabled))
	logging.Info("    Metrics:        %s", enabledString(cfg.Server.MetricsEnabled))

	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}
