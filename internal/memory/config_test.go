package memory

import (
	"runtime/debug"
	"testing"
)

// restoreLimit resets the runtime memory limit after a test changes it.
func restoreLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestConfigure(t *testing.T) {
	restoreLimit(t)

	result := Configure(1000*1024*1024, 0.5)

	if !result.Configured || result.Source != SourceMemoryLimit {
		t.Errorf("Expected configured from MEMORY_LIMIT, got %+v", result)
	}
	if result.GoMemLimit != 500*1024*1024 {
		t.Errorf("Expected GoMemLimit 500MiB, got %d", result.GoMemLimit)
	}
	if got := debug.SetMemoryLimit(-1); got != result.GoMemLimit {
		t.Errorf("Expected runtime limit %d, got %d", result.GoMemLimit, got)
	}
}

func TestConfigure_RatioFallback(t *testing.T) {
	restoreLimit(t)

	for _, ratio := range []float64{0, -0.5, 1.5} {
		result := Configure(1000, ratio)
		if result.Ratio != DefaultMemoryRatio {
			t.Errorf("Configure(1000, %v) ratio = %v, want %v", ratio, result.Ratio, DefaultMemoryRatio)
		}
	}
}

func TestConfigure_NoLimit(t *testing.T) {
	result := Configure(0, 0.8)
	if result.Configured || result.Source != SourceNone {
		t.Errorf("Expected unconfigured result, got %+v", result)
	}
}

func TestConfigureFromEnv(t *testing.T) {
	tests := []struct {
		name           string
		memoryLimit    string
		memoryRatio    string
		wantConfigured bool
		wantRatio      float64
	}{
		{name: "unset", wantConfigured: false},
		{name: "invalid limit", memoryLimit: "lots", wantConfigured: false},
		{name: "negative limit", memoryLimit: "-1", wantConfigured: false},
		{name: "default ratio", memoryLimit: "1073741824", wantConfigured: true, wantRatio: DefaultMemoryRatio},
		{name: "custom ratio", memoryLimit: "1073741824", memoryRatio: "0.6", wantConfigured: true, wantRatio: 0.6},
		{name: "ratio out of range", memoryLimit: "1073741824", memoryRatio: "2", wantConfigured: true, wantRatio: DefaultMemoryRatio},
		{name: "ratio not a number", memoryLimit: "1073741824", memoryRatio: "half", wantConfigured: true, wantRatio: DefaultMemoryRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreLimit(t)
			t.Setenv("GOMEMLIMIT", "")
			t.Setenv("MEMORY_LIMIT", tt.memoryLimit)
			t.Setenv("MEMORY_RATIO", tt.memoryRatio)

			result := ConfigureFromEnv()

			if result.Configured != tt.wantConfigured {
				t.Fatalf("Configured = %v, want %v (%+v)", result.Configured, tt.wantConfigured, result)
			}
			if tt.wantConfigured && result.Ratio != tt.wantRatio {
				t.Errorf("Ratio = %v, want %v", result.Ratio, tt.wantRatio)
			}
		})
	}
}

func TestConfigureFromEnv_GOMEMLIMITTakesPrecedence(t *testing.T) {
	restoreLimit(t)
	debug.SetMemoryLimit(256 * 1024 * 1024)
	t.Setenv("GOMEMLIMIT", "256MiB")
	t.Setenv("MEMORY_LIMIT", "1073741824")

	result := ConfigureFromEnv()

	if result.Source != SourceGoMemLimit {
		t.Errorf("Expected source GOMEMLIMIT, got %q", result.Source)
	}
	if result.GoMemLimit != 256*1024*1024 {
		t.Errorf("Expected existing limit to be reported, got %d", result.GoMemLimit)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
