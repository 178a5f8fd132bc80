package config

import "time"

// UserConfig holds all of the user-configurable options. The fields here
// are PascalCase but in your actual config.yml they'll be snake_case.
// You can view the default config with `cyroid --config`. Relative paths
// are resolved against the config directory at load time.
type UserConfig struct {
	// RuntimeMode selects the container engine backend: docker or podman.
	RuntimeMode string `yaml:"runtime_mode,omitempty"`

	// DatabaseURL is the path of the embedded bolt database, or the
	// literal "memory:" for an ephemeral in-memory store. Handy for
	// demos, fatal for anything you want to keep.
	DatabaseURL string `yaml:"database_url,omitempty"`

	// ISOCacheDir is where downloaded and extracted installer images
	// land, split into windows-isos/, linux-isos/ and custom-isos/.
	ISOCacheDir string `yaml:"iso_cache_dir,omitempty"`

	// TemplateStorageDir holds per-template backing storage that
	// template-derived VMs mount read-only.
	TemplateStorageDir string `yaml:"template_storage_dir,omitempty"`

	// VMStorageDir holds per-VM persistent storage directories.
	VMStorageDir string `yaml:"vm_storage_dir,omitempty"`

	// GlobalSharedDir is mounted read-only into every VM that asks for
	// the shared drop folder.
	GlobalSharedDir string `yaml:"global_shared_dir,omitempty"`

	// MinIO is the object store that holds artifact blobs.
	MinIO MinIOConfig `yaml:"minio,omitempty"`

	// RedisURL is the task-broker endpoint. Nothing in the daemon talks
	// to it directly; it is handed to whatever broker adapter is wired
	// in deployment.
	RedisURL string `yaml:"redis_url,omitempty"`

	// JWTSecret and JWTTTL parameterize token verification in the
	// authenticator adapter. Token issuance lives outside the daemon.
	JWTSecret string        `yaml:"jwt_secret,omitempty"`
	JWTTTL    time.Duration `yaml:"jwt_ttl,omitempty"`

	// ListenAddr is the bind address of the websocket session server.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// StopGrace is how long a container gets to shut down cleanly
	// before the engine kills it.
	StopGrace time.Duration `yaml:"stop_grace,omitempty"`

	// StatusPoll is the sampling interval of the websocket status
	// stream.
	StatusPoll time.Duration `yaml:"status_poll,omitempty"`

	// DownloadTimeout bounds each ISO download and extraction job.
	DownloadTimeout time.Duration `yaml:"download_timeout,omitempty"`

	// RoutingNetwork is the name of the shared network every container
	// joins so the daemon and edge proxy can reach it.
	RoutingNetwork string `yaml:"routing_network,omitempty"`
}

// MinIOConfig points at the S3-compatible object store for artifacts.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// GetDefaultConfig returns the application default configuration
// NOTE (to contributors, not users): do not default a boolean to true, because false is the boolean zero value and this will be ignored when parsing the user's config
func GetDefaultConfig() UserConfig {
	return UserConfig{
		RuntimeMode:        "docker",
		DatabaseURL:        "cyroid.db",
		ISOCacheDir:        "isos",
		TemplateStorageDir: "templates",
		VMStorageDir:       "vms",
		GlobalSharedDir:    "global",
		MinIO: MinIOConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "cyroid-artifacts",
			UseSSL:    false,
		},
		RedisURL:        "redis://localhost:6379/0",
		JWTSecret:       "",
		JWTTTL:          time.Hour,
		ListenAddr:      ":8443",
		StopGrace:       10 * time.Second,
		StatusPoll:      2 * time.Second,
		DownloadTimeout: time.Hour,
		RoutingNetwork:  "cyroid-routing",
	}
}
