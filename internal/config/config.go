package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	// DataDir holds per-job output under <DataDir>/jobs/<job_id>.
	DataDir string `yaml:"dataDir"`
}

type AdmissionConfig struct {
	ConcurrentJobsPerIP int `yaml:"concurrentJobsPerIP"`
	// RequestsPerMinute is an optional Redis-backed request limit on job
	// creation, separate from the concurrency cap. Zero disables it.
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

type JobsConfig struct {
	DefaultMaxPages       int `yaml:"defaultMaxPages"`
	MinPages              int `yaml:"minPages"`
	MaxPages              int `yaml:"maxPages"`
	DefaultTimeoutSeconds int `yaml:"defaultTimeoutSeconds"`
	MinTimeoutSeconds     int `yaml:"minTimeoutSeconds"`
	MaxTimeoutSeconds     int `yaml:"maxTimeoutSeconds"`
	ExpiryHours           int `yaml:"expiryHours"`
}

type WorkerConfig struct {
	MaxConcurrentJobs           int `yaml:"maxConcurrentJobs"`
	PollIntervalSeconds         int `yaml:"pollIntervalSeconds"`
	HeartbeatIntervalSeconds    int `yaml:"heartbeatIntervalSeconds"`
	OrphanedThresholdSeconds    int `yaml:"orphanedThresholdSeconds"`
	StalledThresholdSeconds     int `yaml:"stalledThresholdSeconds"`
	HardStalledThresholdSeconds int `yaml:"hardStalledThresholdSeconds"`
}

type CrawlerConfig struct {
	UserAgent          string `yaml:"userAgent"`
	ConcurrentRequests int    `yaml:"concurrentRequests"`
	PerHostConcurrency int    `yaml:"perHostConcurrency"`
	DepthLimit         int    `yaml:"depthLimit"`
	MinTextLength      int    `yaml:"minTextLength"`
	RespectRobots      bool   `yaml:"respectRobots"`
	// DownloadDelayMs is the base per-host delay between fetches; server
	// pushback backs off from this value.
	DownloadDelayMs int `yaml:"downloadDelayMs"`
}

type BlockingConfig struct {
	Threshold429           float64 `yaml:"threshold429"`
	Threshold403           float64 `yaml:"threshold403"`
	DuplicateHashThreshold float64 `yaml:"duplicateHashThreshold"`
}

type StrategyConfig struct {
	// ExtraJSHostPatterns extends the built-in JS-heavy host table.
	ExtraJSHostPatterns []string `yaml:"extraJSHostPatterns"`
}

type RodConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BrowserURL      string `yaml:"browserURL"`
	SettleDelayMs   int    `yaml:"settleDelayMs"`
	MaxLinksPerPage int    `yaml:"maxLinksPerPage"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Admission AdmissionConfig `yaml:"admission"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Worker    WorkerConfig    `yaml:"worker"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Blocking  BlockingConfig  `yaml:"blocking"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Rod       RodConfig       `yaml:"rod"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "out"
	}
	if c.Admission.ConcurrentJobsPerIP == 0 {
		c.Admission.ConcurrentJobsPerIP = 5
	}
	if c.Jobs.DefaultMaxPages == 0 {
		c.Jobs.DefaultMaxPages = 20
	}
	if c.Jobs.MinPages == 0 {
		c.Jobs.MinPages = 1
	}
	if c.Jobs.MaxPages == 0 {
		c.Jobs.MaxPages = 100
	}
	if c.Jobs.DefaultTimeoutSeconds == 0 {
		c.Jobs.DefaultTimeoutSeconds = 1800
	}
	if c.Jobs.MinTimeoutSeconds == 0 {
		c.Jobs.MinTimeoutSeconds = 60
	}
	if c.Jobs.MaxTimeoutSeconds == 0 {
		c.Jobs.MaxTimeoutSeconds = 1800
	}
	if c.Jobs.ExpiryHours == 0 {
		c.Jobs.ExpiryHours = 24
	}
	if c.Worker.MaxConcurrentJobs == 0 {
		c.Worker.MaxConcurrentJobs = 4
	}
	if c.Worker.PollIntervalSeconds == 0 {
		c.Worker.PollIntervalSeconds = 5
	}
	if c.Worker.HeartbeatIntervalSeconds == 0 {
		c.Worker.HeartbeatIntervalSeconds = 30
	}
	if c.Worker.OrphanedThresholdSeconds == 0 {
		c.Worker.OrphanedThresholdSeconds = 120
	}
	if c.Worker.StalledThresholdSeconds == 0 {
		c.Worker.StalledThresholdSeconds = 300
	}
	if c.Worker.HardStalledThresholdSeconds == 0 {
		c.Worker.HardStalledThresholdSeconds = 900
	}
	if c.Crawler.UserAgent == "" {
		c.Crawler.UserAgent = "SkrappBot/1.0 (docs crawler)"
	}
	if c.Crawler.ConcurrentRequests == 0 {
		c.Crawler.ConcurrentRequests = 16
	}
	if c.Crawler.PerHostConcurrency == 0 {
		c.Crawler.PerHostConcurrency = 8
	}
	if c.Crawler.DepthLimit == 0 {
		c.Crawler.DepthLimit = 20
	}
	if c.Crawler.MinTextLength == 0 {
		c.Crawler.MinTextLength = 200
	}
	if c.Crawler.DownloadDelayMs == 0 {
		c.Crawler.DownloadDelayMs = 1000
	}
	if c.Blocking.Threshold429 == 0 {
		c.Blocking.Threshold429 = 0.20
	}
	if c.Blocking.Threshold403 == 0 {
		c.Blocking.Threshold403 = 0.30
	}
	if c.Blocking.DuplicateHashThreshold == 0 {
		c.Blocking.DuplicateHashThreshold = 0.50
	}
	if c.Rod.SettleDelayMs == 0 {
		c.Rod.SettleDelayMs = 1000
	}
	if c.Rod.MaxLinksPerPage == 0 {
		c.Rod.MaxLinksPerPage = 50
	}
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
}
