package startup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func loadConfig(t *testing.T, configFile string, flags *pflag.FlagSet) (*Config, error) {
	t.Helper()
	v := viper.New()
	if err := ReadConfig(v, configFile, flags); err != nil {
		return nil, err
	}
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadConfig(t, "", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Server.MetricsPort)
	}
	if !cfg.Server.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}
	if !cfg.WebP.ServeImages {
		t.Error("Expected serve_images default true")
	}
	if cfg.WebP.Converter != "cwebp" {
		t.Errorf("Expected converter cwebp, got %q", cfg.WebP.Converter)
	}
	if cfg.WebP.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %v", cfg.WebP.Timeout)
	}
	if len(cfg.WebP.MimeTypes) != 3 {
		t.Errorf("Expected 3 default mime types, got %v", cfg.WebP.MimeTypes)
	}
	if len(cfg.WebP.ConverterArgs) != 0 {
		t.Errorf("Expected no converter args, got %v", cfg.WebP.ConverterArgs)
	}
	if !filepath.IsAbs(cfg.PublicDir) || !filepath.IsAbs(cfg.WebP.CachePath) {
		t.Errorf("Expected absolute paths, got %q and %q", cfg.PublicDir, cfg.WebP.CachePath)
	}
	if want := filepath.Join(cfg.WebP.CachePath, DefaultIndexName); cfg.Index.Path != want {
		t.Errorf("Expected index path %q, got %q", want, cfg.Index.Path)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gateway.yaml")
	content := `
server:
  port: 8181
public_dir: /srv/public
webp:
  cache_path: /srv/cache
  serve_images: false
  converter_args: ["-q", "80"]
  timeout: 5s
  mime_types:
    - image/png
index:
  path: /var/lib/webp/index.db
log:
  level: debug
  format: json
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(t, file, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8181 {
		t.Errorf("Expected port 8181, got %d", cfg.Server.Port)
	}
	if cfg.PublicDir != "/srv/public" {
		t.Errorf("Expected /srv/public, got %q", cfg.PublicDir)
	}
	if cfg.WebP.ServeImages {
		t.Error("Expected serve_images false")
	}
	if strings.Join(cfg.WebP.ConverterArgs, " ") != "-q 80" {
		t.Errorf("Unexpected converter args: %v", cfg.WebP.ConverterArgs)
	}
	if cfg.WebP.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.WebP.Timeout)
	}
	if len(cfg.WebP.MimeTypes) != 1 || cfg.WebP.MimeTypes[0] != "image/png" {
		t.Errorf("Unexpected mime types: %v", cfg.WebP.MimeTypes)
	}
	if cfg.Index.Path != "/var/lib/webp/index.db" {
		t.Errorf("Expected explicit index path, got %q", cfg.Index.Path)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected json log format, got %q", cfg.Log.Format)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := loadConfig(t, filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("WEBP_SERVER_PORT", "9000")
	t.Setenv("WEBP_WEBP_CONVERTER", "vips")
	t.Setenv("WEBP_WEBP_MIME_TYPES", "image/png,image/gif")
	t.Setenv("WEBP_WEBP_TIMEOUT", "-1s")
	t.Setenv("WEBP_INDEX_ENABLED", "false")

	cfg, err := loadConfig(t, "", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.WebP.Converter != "vips" {
		t.Errorf("Expected vips converter, got %q", cfg.WebP.Converter)
	}
	if len(cfg.WebP.MimeTypes) != 2 || cfg.WebP.MimeTypes[1] != "image/gif" {
		t.Errorf("Unexpected mime types: %v", cfg.WebP.MimeTypes)
	}
	if cfg.WebP.Timeout >= 0 {
		t.Errorf("Expected negative timeout, got %v", cfg.WebP.Timeout)
	}
	if cfg.Index.Enabled {
		t.Error("Expected index disabled")
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("WEBP_SERVER_PORT", "9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("cache-path", "", "")
	flags.Int("workers", 0, "")
	if err := flags.Parse([]string{"--port=7000", "--cache-path=/tmp/webp-cache"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(t, "", flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Expected flag port 7000, got %d", cfg.Server.Port)
	}
	if cfg.WebP.CachePath != "/tmp/webp-cache" {
		t.Errorf("Expected flag cache path, got %q", cfg.WebP.CachePath)
	}
	if cfg.WebP.Workers != 0 {
		t.Errorf("Unset flag must not override default, got %d workers", cfg.WebP.Workers)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown converter", map[string]string{"WEBP_WEBP_CONVERTER": "ffmpeg"}},
		{"port out of range", map[string]string{"WEBP_SERVER_PORT": "70000"}},
		{"quality out of range", map[string]string{"WEBP_WEBP_QUALITY": "0"}},
		{"negative workers", map[string]string{"WEBP_WEBP_WORKERS": "-2"}},
		{"bad log level", map[string]string{"WEBP_LOG_LEVEL": "verbose"}},
		{"bad log format", map[string]string{"WEBP_LOG_FORMAT": "xml"}},
		{"mime type without slash", map[string]string{"WEBP_WEBP_MIME_TYPES": "png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := loadConfig(t, "", nil)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), "validate config") {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestPrepareDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{
		PublicDir: filepath.Join(root, "public"),
		WebP:      WebPConfig{CachePath: filepath.Join(root, "cache", "webp")},
	}

	if err := PrepareDirectories(cfg); err != nil {
		t.Fatalf("PrepareDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.PublicDir, cfg.WebP.CachePath} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s: %v", dir, err)
		}
	}
}

func TestPrepareDirectoriesCacheIsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "cache")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{PublicDir: root, WebP: WebPConfig{CachePath: file}}
	if err := PrepareDirectories(cfg); err == nil {
		t.Error("Expected error when cache path is a file")
	}
}
