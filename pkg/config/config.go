package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"RiskPull/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" toml:"environment" default:"development" validate:"required"`
	Log         logger.Config `yaml:"log" toml:"log"`
	Paths       Paths         `yaml:"paths" toml:"paths"`

	Server struct {
		Port            int           `yaml:"port" toml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" default:"10s"`
		MetricsEnabled  bool          `yaml:"metrics_enabled" toml:"metrics_enabled" default:"true"`
		CORS            bool          `yaml:"cors" toml:"cors" default:"true"`
	} `yaml:"server" toml:"server"`

	RiskIndex struct {
		ZWindow      int     `yaml:"z_window" toml:"z_window" default:"252" validate:"min=20"`
		BinWindow    int     `yaml:"bin_window" toml:"bin_window" default:"252" validate:"min=0"`
		RedThreshold float64 `yaml:"red_threshold" toml:"red_threshold" default:"70" validate:"gt=50,lte=100"`
	} `yaml:"riskindex" toml:"riskindex"`

	Optimizer struct {
		EMAMin    int       `yaml:"ema_min" toml:"ema_min" default:"10" validate:"min=2"`
		EMAMax    int       `yaml:"ema_max" toml:"ema_max" default:"126"`
		OnMin     int       `yaml:"on_min" toml:"on_min" default:"38"`
		OnMax     int       `yaml:"on_max" toml:"on_max" default:"50"`
		OffMin    int       `yaml:"off_min" toml:"off_min" default:"50"`
		OffMax    int       `yaml:"off_max" toml:"off_max" default:"62"`
		ShortWs   []float64 `yaml:"short_weights" toml:"short_weights" default:"[-1,-0.75,-0.5,-0.25]" validate:"dive,gte=-1,lte=0"`
		Benchmark string    `yaml:"benchmark" toml:"benchmark" default:"SPY" validate:"required"`
		Workers   int       `yaml:"workers" toml:"workers" validate:"min=0"` // 0 = GOMAXPROCS
	} `yaml:"optimizer" toml:"optimizer"`

	WalkForward struct {
		TrainYears   int `yaml:"train_years" toml:"train_years" default:"3" validate:"min=1"`
		TestYears    int `yaml:"test_years" toml:"test_years" default:"1" validate:"min=1"`
		StepDays     int `yaml:"step_days" toml:"step_days" default:"365" validate:"min=1"`
		MinTrainRows int `yaml:"min_train_rows" toml:"min_train_rows" default:"250"`
		MinTestRows  int `yaml:"min_test_rows" toml:"min_test_rows" default:"100"`
	} `yaml:"walkforward" toml:"walkforward"`

	HV struct {
		Workers int `yaml:"workers" toml:"workers" default:"8" validate:"min=1"`
	} `yaml:"hv" toml:"hv"`

	Report struct {
		PublicBase string `yaml:"public_base" toml:"public_base" default:"."`
		Gzip       bool   `yaml:"gzip" toml:"gzip" default:"true"`
		Workers    int    `yaml:"workers" toml:"workers" default:"4" validate:"min=1"`
	} `yaml:"report" toml:"report"`

	Finnhub struct {
		APIKey    string        `yaml:"api_key" toml:"api_key"`
		BaseURL   string        `yaml:"base_url" toml:"base_url" default:"https://finnhub.io/api/v1" validate:"url"`
		PerSecond int           `yaml:"per_second" toml:"per_second" default:"4" validate:"min=1"`
		PerMinute int           `yaml:"per_minute" toml:"per_minute" default:"50" validate:"min=1"`
		Timeout   time.Duration `yaml:"timeout" toml:"timeout" default:"15s"`
		CacheTTL  time.Duration `yaml:"cache_ttl" toml:"cache_ttl" default:"24h"`
	} `yaml:"finnhub" toml:"finnhub"`

	FredAPIKey string `yaml:"fred_api_key" toml:"fred_api_key"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" toml:"enabled"`
		Addr     string `yaml:"addr" toml:"addr" default:"localhost:6379"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
		Prefix   string `yaml:"prefix" toml:"prefix" default:"riskpull"`

		PoolSize     int           `yaml:"pool_size" toml:"pool_size" default:"10" validate:"min=1"`
		MinIdleConns int           `yaml:"min_idle_conns" toml:"min_idle_conns" default:"2" validate:"min=0"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" toml:"pool_timeout" default:"30s"`
	} `yaml:"redis" toml:"redis"`

	Cache struct {
		MemoryMaxSize   int           `yaml:"memory_max_size" toml:"memory_max_size" default:"1000" validate:"min=1"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval" default:"5m"`
	} `yaml:"cache" toml:"cache"`

	Queue struct {
		Enabled    bool          `yaml:"enabled" toml:"enabled"`
		Workers    int           `yaml:"workers" toml:"workers" default:"4" validate:"min=1"`
		RetryLimit int           `yaml:"retry_limit" toml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" toml:"retry_delay" default:"30s"`
	} `yaml:"queue" toml:"queue"`

	Kafka struct {
		Brokers       []string      `yaml:"brokers" toml:"brokers"`
		SnapshotTopic string        `yaml:"snapshot_topic" toml:"snapshot_topic" default:"riskpull.riskindex"`
		LogTopic      string        `yaml:"log_topic" toml:"log_topic" default:"riskpull.logs"`
		RequiredAcks  int           `yaml:"required_acks" toml:"required_acks" default:"1"`
		MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts" default:"3" validate:"min=1"`
		Compression   string        `yaml:"compression" toml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		WriteTimeout  time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"10s"`
		BatchTimeout  time.Duration `yaml:"batch_timeout" toml:"batch_timeout" default:"50ms"`
	} `yaml:"kafka" toml:"kafka"`

	ClickHouse struct {
		Host        string        `yaml:"host" toml:"host" default:"localhost"`
		Port        int           `yaml:"port" toml:"port" default:"9000"`
		Database    string        `yaml:"database" toml:"database" default:"riskpull"`
		User        string        `yaml:"user" toml:"user" default:"default"`
		Password    string        `yaml:"password" toml:"password"`
		UseHTTP     bool          `yaml:"use_http" toml:"use_http"`
		DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"30s"`
		MaxExecTime time.Duration `yaml:"max_execution_time" toml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse" toml:"clickhouse"`

	Sinks struct {
		Backend string `yaml:"backend" toml:"backend" default:"none" validate:"oneof=none kafka clickhouse both"`
	} `yaml:"sinks" toml:"sinks"`

	Schedule struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Nightly string `yaml:"nightly" toml:"nightly" default:"30 5 * * *"`
	} `yaml:"schedule" toml:"schedule"`
}

// Paths locates the artifact tree. Relative sub directories resolve against DataDir.
type Paths struct {
	DataDir       string `yaml:"data_dir" toml:"data_dir" default:"data" validate:"required"`
	DocsDir       string `yaml:"docs_dir" toml:"docs_dir" default:"docs" validate:"required"`
	Watchlist     string `yaml:"watchlist" toml:"watchlist" default:"watchlists/mylist.txt"`
	PricesParquet string `yaml:"prices_parquet" toml:"prices_parquet"`
	CacheDB       string `yaml:"cache_db" toml:"cache_db"`
}

func (p Paths) Processed() string  { return filepath.Join(p.DataDir, "processed") }
func (p Paths) Reports() string    { return filepath.Join(p.DataDir, "reports") }
func (p Paths) Prices() string     { return filepath.Join(p.DataDir, "prices") }
func (p Paths) EqTemplate() string { return filepath.Join(p.Processed(), "eq_template") }

func (p Paths) CacheDBPath() string {
	if p.CacheDB != "" {
		return p.CacheDB
	}
	return filepath.Join(p.DataDir, "cache", "cache.db")
}

// Default returns a config holding only struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

func read(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads a YAML or TOML file on top of the defaults and validates it.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv is Load with environment overrides applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := firstNonEmpty(getenv("FINNHUB_TOKEN"), getenv("FINNHUB_API_KEY")); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("FRED_API_KEY"); v != "" {
		c.FredAPIKey = v
	}
	if v := getenv("WATCHLIST_STOCKS"); v != "" {
		c.Paths.Watchlist = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("SINK_BACKEND"); v != "" {
		c.Sinks.Backend = v
	}
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed on '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	o := c.Optimizer
	if o.EMAMax < o.EMAMin {
		return fmt.Errorf("optimizer.ema_max (%d) must be >= ema_min (%d)", o.EMAMax, o.EMAMin)
	}
	if o.OnMax < o.OnMin || o.OffMax < o.OffMin {
		return fmt.Errorf("optimizer threshold ranges are inverted")
	}
	if o.OnMin >= o.OffMax {
		return fmt.Errorf("optimizer.on_min (%d) must be below off_max (%d), grid would be empty", o.OnMin, o.OffMax)
	}
	switch c.Sinks.Backend {
	case "kafka", "both":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for sinks.backend '%s'", c.Sinks.Backend)
		}
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
