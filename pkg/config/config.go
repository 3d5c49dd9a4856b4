package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Models struct {
		Post              string  `yaml:"post"`
		Profile           string  `yaml:"profile"`
		Temperature       float64 `yaml:"temperature"`
		MaxTokens         int64   `yaml:"max_tokens"`
		ProfileMultiplier int64   `yaml:"profile_multiplier"`
		BaseURL           string  `yaml:"base_url"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"models"`
	Images struct {
		BaseURL           string  `yaml:"base_url"`
		Model             string  `yaml:"model"`
		ChancePercent     int     `yaml:"chance_percent"`
		DisableSafety     bool    `yaml:"disable_safety_checker"`
		MaxDimension      int     `yaml:"max_dimension"`
		Quality           int     `yaml:"quality"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"images"`
	News struct {
		Endpoint  string   `yaml:"endpoint"`
		Market    string   `yaml:"market"`
		Count     int      `yaml:"count"`
		Blocklist []string `yaml:"blocklist"`
		CacheMins int      `yaml:"cache_minutes"`
	} `yaml:"news"`
	Budget struct {
		DefaultQuota     int64 `yaml:"default_quota"`
		PersonaMinimum   int64 `yaml:"persona_minimum"`
		ImageMinimum     int64 `yaml:"image_minimum"`
		ImageSurcharge   int64 `yaml:"image_surcharge"`
		ActionsPerMinute int   `yaml:"actions_per_minute"`
	} `yaml:"budget"`
	Scheduler struct {
		CooldownMinutes  float64 `yaml:"cooldown_minutes"`
		MaxPostsPerRun   int     `yaml:"max_posts_per_run"`
		PostDelayMinutes float64 `yaml:"post_delay_minutes"`
		IntervalMinutes  float64 `yaml:"interval_minutes"`
		RecentWindow     int     `yaml:"recent_window"`
		CallTimeoutSecs  float64 `yaml:"call_timeout_seconds"`
	} `yaml:"scheduler"`
	Storage struct {
		Bucket        string `yaml:"bucket"`
		Region        string `yaml:"region"`
		Endpoint      string `yaml:"endpoint"`
		PublicBaseURL string `yaml:"public_base_url"`
		UsePathStyle  bool   `yaml:"use_path_style"`
	} `yaml:"storage"`
	Database struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	config := &Config{}
	config.Models.Post = "gpt-4o-mini"
	config.Models.Profile = "gpt-4o"
	config.Models.Temperature = 0.9
	config.Models.MaxTokens = 400
	config.Models.ProfileMultiplier = 20
	config.Models.BaseURL = "https://api.openai.com/v1"
	config.Models.RequestsPerSecond = 2

	config.Images.BaseURL = "https://api.replicate.com/v1"
	config.Images.Model = "stability-ai/sdxl"
	config.Images.ChancePercent = 30
	config.Images.DisableSafety = true
	config.Images.MaxDimension = 1024
	config.Images.Quality = 85
	config.Images.RequestsPerSecond = 0.5

	config.News.Endpoint = "https://api.bing.microsoft.com/v7.0/news/search"
	config.News.Market = "en-US"
	config.News.Count = 10
	config.News.Blocklist = []string{"MSN", "Yahoo News"}
	config.News.CacheMins = 30

	config.Budget.DefaultQuota = 100000
	config.Budget.PersonaMinimum = 40000
	config.Budget.ImageMinimum = 10000
	config.Budget.ImageSurcharge = 5000
	config.Budget.ActionsPerMinute = 5

	config.Scheduler.CooldownMinutes = 60
	config.Scheduler.MaxPostsPerRun = 2
	config.Scheduler.PostDelayMinutes = 5
	config.Scheduler.IntervalMinutes = 30
	config.Scheduler.RecentWindow = 25
	config.Scheduler.CallTimeoutSecs = 120

	config.Storage.Bucket = "personafeed"
	config.Storage.Region = "us-east-1"

	config.Database.Driver = "sqlite"
	config.Database.SQLitePath = "personafeed.db"
	return config
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	if config.Scheduler.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("scheduler.interval_minutes must be positive, got %v", config.Scheduler.IntervalMinutes)
	}

	return config, nil
}

func (c *Config) Cooldown() time.Duration {
	return minutes(c.Scheduler.CooldownMinutes)
}

func (c *Config) PostDelay() time.Duration {
	return minutes(c.Scheduler.PostDelayMinutes)
}

func (c *Config) Interval() time.Duration {
	return minutes(c.Scheduler.IntervalMinutes)
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Scheduler.CallTimeoutSecs * float64(time.Second))
}

func (c *Config) NewsCacheTTL() time.Duration {
	return time.Duration(c.News.CacheMins) * time.Minute
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
