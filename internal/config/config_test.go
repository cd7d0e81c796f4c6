package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.StagingDir != "./staging" {
		t.Errorf("StagingDir = %q, want %q", cfg.StagingDir, "./staging")
	}
	if cfg.MountPath != "./uploads" {
		t.Errorf("MountPath = %q, want %q", cfg.MountPath, "./uploads")
	}
	if cfg.MaxFileSize != 20<<30 {
		t.Errorf("MaxFileSize = %d, want %d", cfg.MaxFileSize, 20<<30)
	}
	if cfg.Verbose {
		t.Error("expected verbose disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	t.Chdir(dir)

	os.Setenv("TUSWAY_HOST", "127.0.0.1")
	os.Setenv("TUSWAY_PORT", "9090")
	os.Setenv("STAGING_DIR", filepath.Join(dir, "stage"))
	os.Setenv("MOUNT_PATH", filepath.Join(dir, "mount"))
	os.Setenv("TUSWAY_MAX_FILE_SIZE", "1024")
	os.Setenv("TUSWAY_VERBOSE", "true")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MaxFileSize != 1024 {
		t.Errorf("MaxFileSize = %d, want 1024", cfg.MaxFileSize)
	}
	if !cfg.Verbose {
		t.Error("expected verbose enabled")
	}

	if _, err := os.Stat(cfg.StagingDir); err != nil {
		t.Errorf("expected staging dir to be created: %v", err)
	}
	if _, err := os.Stat(cfg.MountPath); err != nil {
		t.Errorf("expected mount path to be created: %v", err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		config    *Config
		wantError bool
	}{
		{
			name:   "valid config",
			config: &Config{Host: "0.0.0.0", Port: 8080, StagingDir: filepath.Join(dir, "a"), MountPath: filepath.Join(dir, "b")},
		},
		{
			name:      "invalid port too low",
			config:    &Config{Port: 0, StagingDir: filepath.Join(dir, "c"), MountPath: filepath.Join(dir, "d")},
			wantError: true,
		},
		{
			name:      "invalid port too high",
			config:    &Config{Port: 65536, StagingDir: filepath.Join(dir, "e"), MountPath: filepath.Join(dir, "f")},
			wantError: true,
		},
		{
			name:      "empty staging dir",
			config:    &Config{Port: 8080, StagingDir: "", MountPath: filepath.Join(dir, "g")},
			wantError: true,
		},
		{
			name:      "empty mount path",
			config:    &Config{Port: 8080, StagingDir: filepath.Join(dir, "h"), MountPath: ""},
			wantError: true,
		},
		{
			name:      "negative max file size",
			config:    &Config{Port: 8080, StagingDir: filepath.Join(dir, "i"), MountPath: filepath.Join(dir, "j"), MaxFileSize: -1},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 9000}

	if addr := cfg.Address(); addr != "localhost:9000" {
		t.Errorf("Address() = %q, want %q", addr, "localhost:9000")
	}
}

func TestGetEnv(t *testing.T) {
	os.Clearenv()

	if val := getEnv("TEST_VAR", "default"); val != "default" {
		t.Errorf("getEnv() = %q, want %q", val, "default")
	}

	os.Setenv("TEST_VAR", "custom")
	if val := getEnv("TEST_VAR", "default"); val != "custom" {
		t.Errorf("getEnv() = %q, want %q", val, "custom")
	}

	os.Clearenv()
}

func TestGetEnvAsInt(t *testing.T) {
	os.Clearenv()

	if val := getEnvAsInt("TEST_INT", 42); val != 42 {
		t.Errorf("getEnvAsInt() = %d, want 42", val)
	}

	os.Setenv("TEST_INT", "100")
	if val := getEnvAsInt("TEST_INT", 42); val != 100 {
		t.Errorf("getEnvAsInt() = %d, want 100", val)
	}

	os.Setenv("TEST_INT", "invalid")
	if val := getEnvAsInt("TEST_INT", 42); val != 42 {
		t.Errorf("getEnvAsInt() = %d, want 42 (default)", val)
	}

	os.Clearenv()
}

func TestGetEnvAsInt64(t *testing.T) {
	os.Clearenv()

	if val := getEnvAsInt64("TEST_INT64", 42); val != 42 {
		t.Errorf("getEnvAsInt64() = %d, want 42", val)
	}

	os.Setenv("TEST_INT64", "123456789012")
	if val := getEnvAsInt64("TEST_INT64", 42); val != 123456789012 {
		t.Errorf("getEnvAsInt64() = %d, want 123456789012", val)
	}

	os.Clearenv()
}

func TestGetEnvAsBool(t *testing.T) {
	os.Clearenv()

	if val := getEnvAsBool("TEST_BOOL", false); val != false {
		t.Errorf("getEnvAsBool() = %v, want false", val)
	}

	os.Setenv("TEST_BOOL", "true")
	if val := getEnvAsBool("TEST_BOOL", false); val != true {
		t.Errorf("getEnvAsBool() = %v, want true", val)
	}

	os.Setenv("TEST_BOOL", "invalid")
	if val := getEnvAsBool("TEST_BOOL", false); val != false {
		t.Errorf("getEnvAsBool() = %v, want false (default)", val)
	}

	os.Clearenv()
}
