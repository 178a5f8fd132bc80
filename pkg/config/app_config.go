package config

import (
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
	yaml "github.com/jesseduffield/yaml"
	"github.com/spkg/bom"
)

// AppConfig contains the base configuration fields required for cyroid.
type AppConfig struct {
	Debug       bool   `long:"debug" env:"DEBUG" default:"false"`
	Version     string `long:"version" env:"VERSION" default:"unversioned"`
	Commit      string `long:"commit" env:"COMMIT"`
	BuildDate   string `long:"build-date" env:"BUILD_DATE"`
	Name        string `long:"name" env:"NAME" default:"cyroid"`
	BuildSource string `long:"build-source" env:"BUILD_SOURCE" default:""`
	UserConfig  *UserConfig
	ConfigDir   string
}

// NewAppConfig makes a new app config. Resolution order is defaults,
// then the yaml file, then CYROID_* environment variables. configFile
// overrides the default config.yml location under the xdg config dir.
func NewAppConfig(name, version, commit, date string, buildSource string, debuggingFlag bool, configFile string) (*AppConfig, error) {
	configDir, err := findOrCreateConfigDir(name)
	if err != nil {
		return nil, err
	}
	if configFile == "" {
		configFile = filepath.Join(configDir, "config.yml")
	}

	userConfig, err := loadUserConfigWithDefaults(configFile)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(userConfig)
	resolvePaths(userConfig, configDir)
	if err := userConfig.Validate(); err != nil {
		return nil, err
	}
	if err := ensureDataDirs(userConfig); err != nil {
		return nil, err
	}

	appConfig := &AppConfig{
		Name:        name,
		Version:     version,
		Commit:      commit,
		BuildDate:   date,
		Debug:       debuggingFlag || os.Getenv("DEBUG") == "TRUE",
		BuildSource: buildSource,
		UserConfig:  userConfig,
		ConfigDir:   configDir,
	}

	return appConfig, nil
}

func findOrCreateConfigDir(projectName string) (string, error) {
	path := xdg.New("", projectName).ConfigHome()
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func loadUserConfigWithDefaults(fileName string) (*UserConfig, error) {
	config := GetDefaultConfig()

	return loadUserConfig(fileName, &config)
}

func loadUserConfig(fileName string, base *UserConfig) (*UserConfig, error) {
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			file, err := os.Create(fileName)
			if err != nil {
				return nil, err
			}
			file.Close()
		} else {
			return nil, err
		}
	}

	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	// config files written on Windows sometimes start with a byte order
	// mark, which the yaml parser rejects
	if err := yaml.Unmarshal(bom.Clean(content), base); err != nil {
		return nil, err
	}

	return base, nil
}

// applyEnvOverrides lets deployments override the file per field. Only
// the operational knobs have env names; tuning values stay in the file.
func applyEnvOverrides(config *UserConfig) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"CYROID_RUNTIME_MODE", &config.RuntimeMode},
		{"CYROID_DATABASE_URL", &config.DatabaseURL},
		{"CYROID_ISO_CACHE_DIR", &config.ISOCacheDir},
		{"CYROID_TEMPLATE_STORAGE_DIR", &config.TemplateStorageDir},
		{"CYROID_VM_STORAGE_DIR", &config.VMStorageDir},
		{"CYROID_GLOBAL_SHARED_DIR", &config.GlobalSharedDir},
		{"CYROID_LISTEN_ADDR", &config.ListenAddr},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// resolvePaths anchors relative storage paths at the config dir so the
// default config works out of the box. "memory:" is not a path.
func resolvePaths(config *UserConfig, configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&config.ISOCacheDir)
	resolve(&config.TemplateStorageDir)
	resolve(&config.VMStorageDir)
	resolve(&config.GlobalSharedDir)
	if config.DatabaseURL != MemoryDatabase {
		resolve(&config.DatabaseURL)
	}
}

func ensureDataDirs(config *UserConfig) error {
	for _, dir := range []string{
		config.ISOCacheDir,
		config.TemplateStorageDir,
		config.VMStorageDir,
		config.GlobalSharedDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFilename returns the filename of the current config file
func (c *AppConfig) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "config.yml")
}
