package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestAppConfig points the xdg config home at a temp dir so tests
// never touch the real one. An empty configYaml means "no file given",
// which exercises the auto-created default config.yml.
func newTestAppConfig(t *testing.T, configYaml string) (*AppConfig, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configFile := ""
	if configYaml != "" {
		configFile = filepath.Join(t.TempDir(), "config.yml")
		if err := os.WriteFile(configFile, []byte(configYaml), 0o644); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
	}

	return NewAppConfig("cyroid", "version", "commit", "date", "buildSource", false, configFile)
}

func TestNewAppConfigDefaults(t *testing.T) {
	conf, err := newTestAppConfig(t, "")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.RuntimeMode != "docker" {
		t.Errorf("Expected RuntimeMode to be 'docker', got '%s'", conf.UserConfig.RuntimeMode)
	}

	expectedDB := filepath.Join(conf.ConfigDir, "cyroid.db")
	if conf.UserConfig.DatabaseURL != expectedDB {
		t.Errorf("Expected DatabaseURL to be '%s', got '%s'", expectedDB, conf.UserConfig.DatabaseURL)
	}

	if _, err := os.Stat(conf.ConfigFilename()); err != nil {
		t.Errorf("Expected config.yml to be created: %s", err)
	}
}

func TestNewAppConfigCreatesDataDirs(t *testing.T) {
	conf, err := newTestAppConfig(t, "")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	for _, dir := range []string{
		conf.UserConfig.ISOCacheDir,
		conf.UserConfig.TemplateStorageDir,
		conf.UserConfig.VMStorageDir,
		conf.UserConfig.GlobalSharedDir,
	} {
		if !strings.HasPrefix(dir, conf.ConfigDir) {
			t.Errorf("Expected '%s' to be resolved under '%s'", dir, conf.ConfigDir)
		}
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Expected data dir '%s' to exist: %s", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("Expected '%s' to be a directory", dir)
		}
	}
}

func TestNewAppConfigReadsConfigFile(t *testing.T) {
	conf, err := newTestAppConfig(t, "runtime_mode: podman\nlisten_addr: 127.0.0.1:9000\nstop_grace: 30s\n")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.RuntimeMode != "podman" {
		t.Errorf("Expected RuntimeMode to be 'podman', got '%s'", conf.UserConfig.RuntimeMode)
	}
	if conf.UserConfig.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Expected ListenAddr to be '127.0.0.1:9000', got '%s'", conf.UserConfig.ListenAddr)
	}
	if conf.UserConfig.StopGrace != 30*time.Second {
		t.Errorf("Expected StopGrace to be 30s, got '%s'", conf.UserConfig.StopGrace)
	}

	// keys the file doesn't set keep their defaults
	if conf.UserConfig.StatusPoll != 2*time.Second {
		t.Errorf("Expected StatusPoll to be 2s, got '%s'", conf.UserConfig.StatusPoll)
	}
	if conf.UserConfig.MinIO.Bucket != "cyroid-artifacts" {
		t.Errorf("Expected MinIO.Bucket to be 'cyroid-artifacts', got '%s'", conf.UserConfig.MinIO.Bucket)
	}
}

func TestNewAppConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("CYROID_RUNTIME_MODE", "podman")
	t.Setenv("CYROID_DATABASE_URL", "/var/lib/cyroid/cyroid.db")
	t.Setenv("CYROID_VM_STORAGE_DIR", "vm-data")

	conf, err := newTestAppConfig(t, "runtime_mode: docker\ndatabase_url: /from/file.db\n")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.RuntimeMode != "podman" {
		t.Errorf("Expected env to beat the file, got '%s'", conf.UserConfig.RuntimeMode)
	}
	if conf.UserConfig.DatabaseURL != "/var/lib/cyroid/cyroid.db" {
		t.Errorf("Expected absolute env path to be kept, got '%s'", conf.UserConfig.DatabaseURL)
	}

	// relative env values are resolved just like relative file values
	expected := filepath.Join(conf.ConfigDir, "vm-data")
	if conf.UserConfig.VMStorageDir != expected {
		t.Errorf("Expected VMStorageDir to be '%s', got '%s'", expected, conf.UserConfig.VMStorageDir)
	}
}

func TestNewAppConfigKeepsMemoryDatabase(t *testing.T) {
	conf, err := newTestAppConfig(t, "database_url: \"memory:\"\n")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.DatabaseURL != MemoryDatabase {
		t.Errorf("Expected DatabaseURL to stay '%s', got '%s'", MemoryDatabase, conf.UserConfig.DatabaseURL)
	}
}

func TestNewAppConfigKeepsAbsolutePaths(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "iso-cache")

	conf, err := newTestAppConfig(t, "iso_cache_dir: "+cacheDir+"\n")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.ISOCacheDir != cacheDir {
		t.Errorf("Expected ISOCacheDir to be '%s', got '%s'", cacheDir, conf.UserConfig.ISOCacheDir)
	}
	if _, err := os.Stat(cacheDir); err != nil {
		t.Errorf("Expected data dir '%s' to exist: %s", cacheDir, err)
	}
}

func TestNewAppConfigRejectsInvalidConfig(t *testing.T) {
	_, err := newTestAppConfig(t, "runtime_mode: lxc\n")
	if err == nil {
		t.Fatal("Expected an error for runtime_mode 'lxc'")
	}
	if !strings.Contains(err.Error(), "runtime_mode") {
		t.Errorf("Expected error to mention runtime_mode, got '%s'", err)
	}
}

func TestNewAppConfigStripsByteOrderMark(t *testing.T) {
	conf, err := newTestAppConfig(t, "\xef\xbb\xbfruntime_mode: podman\n")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if conf.UserConfig.RuntimeMode != "podman" {
		t.Errorf("Expected RuntimeMode to be 'podman', got '%s'", conf.UserConfig.RuntimeMode)
	}
}

func TestNewAppConfigRejectsMalformedYaml(t *testing.T) {
	_, err := newTestAppConfig(t, "runtime_mode: [\n")
	if err == nil {
		t.Fatal("Expected an error for malformed yaml")
	}
}

func TestNewAppConfigDebug(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	conf, err := NewAppConfig("cyroid", "version", "commit", "date", "buildSource", true, "")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !conf.Debug {
		t.Error("Expected the debugging flag to set Debug")
	}

	t.Setenv("DEBUG", "TRUE")
	conf, err = NewAppConfig("cyroid", "version", "commit", "date", "buildSource", false, "")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !conf.Debug {
		t.Error("Expected DEBUG=TRUE to set Debug")
	}
}
