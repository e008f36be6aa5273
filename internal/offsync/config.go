package offsync

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Storage struct {
		Path     string `yaml:"path"`
		MaxValue string `yaml:"maxValue"`

		// compiled
		maxValueBytes int64
	} `yaml:"storage"`

	Assets AssetManifest `yaml:"assets"`

	API struct {
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"api"`

	Connectivity struct {
		Probe    string `yaml:"probe"` // "dns" | "http" | "manual"
		Resolver string `yaml:"resolver"`
		Host     string `yaml:"host"`
		URL      string `yaml:"url"`
		Every    string `yaml:"every"`

		// compiled
		everyDur time.Duration
	} `yaml:"connectivity"`

	Queue struct {
		ReplayPerSec float64 `yaml:"replayPerSec"`
		ReplayBurst  int     `yaml:"replayBurst"`
	} `yaml:"queue"`

	Sessions struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"sessions"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`

		// compiled
		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

// AssetManifest describes one cache generation: a version tag and the
// three priority tiers populated at install time.
type AssetManifest struct {
	Version   string   `yaml:"version"`
	Shell     string   `yaml:"shell"`
	Critical  []string `yaml:"critical"`
	Secondary []string `yaml:"secondary"`
	Optional  []string `yaml:"optional"`
}

// BucketName is the versioned cache bucket this manifest installs into.
func (m AssetManifest) BucketName() string {
	return "assets-" + m.Version
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return Config{}, fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/offsync"
	}
	if cfg.Storage.MaxValue != "" {
		n, err := parseBytes(cfg.Storage.MaxValue)
		if err != nil {
			return Config{}, fmt.Errorf("storage.maxValue: %w", err)
		}
		cfg.Storage.maxValueBytes = n
	}

	if cfg.Assets.Version == "" {
		return Config{}, fmt.Errorf("assets.version is required")
	}
	if cfg.Assets.Shell == "" {
		cfg.Assets.Shell = "/index.html"
	}
	if !containsString(cfg.Assets.Critical, cfg.Assets.Shell) {
		cfg.Assets.Critical = append([]string{cfg.Assets.Shell}, cfg.Assets.Critical...)
	}
	tiers := map[string][]string{
		"critical":  cfg.Assets.Critical,
		"secondary": cfg.Assets.Secondary,
		"optional":  cfg.Assets.Optional,
	}
	for tier, list := range tiers {
		for _, p := range list {
			if !strings.HasPrefix(p, "/") {
				return Config{}, fmt.Errorf("assets.%s: path %q must start with /", tier, p)
			}
		}
	}

	for i, p := range cfg.API.Prefixes {
		if !strings.HasPrefix(p, "/") {
			return Config{}, fmt.Errorf("api.prefixes[%d]: %q must start with /", i, p)
		}
	}

	switch cfg.Connectivity.Probe {
	case "":
		cfg.Connectivity.Probe = "http"
	case "dns", "http", "manual":
	default:
		return Config{}, fmt.Errorf("connectivity.probe: unknown %q", cfg.Connectivity.Probe)
	}
	if cfg.Connectivity.Resolver == "" {
		cfg.Connectivity.Resolver = "1.1.1.1:53"
	}
	if cfg.Connectivity.Host == "" {
		cfg.Connectivity.Host = "example.com"
	}
	if cfg.Connectivity.URL == "" {
		cfg.Connectivity.URL = cfg.Server.Origin + "/"
	}
	cfg.Connectivity.everyDur = 5 * time.Second
	if cfg.Connectivity.Every != "" {
		d, err := time.ParseDuration(cfg.Connectivity.Every)
		if err != nil {
			return Config{}, fmt.Errorf("connectivity.every: %w", err)
		}
		cfg.Connectivity.everyDur = d
	}

	if cfg.Queue.ReplayPerSec <= 0 {
		cfg.Queue.ReplayPerSec = 5
	}
	if cfg.Queue.ReplayBurst <= 0 {
		cfg.Queue.ReplayBurst = 5
	}

	if strings.HasPrefix(cfg.Sessions.Endpoint, "/") {
		cfg.Sessions.Endpoint = cfg.Server.Origin + cfg.Sessions.Endpoint
	}

	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return Config{}, fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.logStatsEveryDur = d
	}

	return cfg, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
