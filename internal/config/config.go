package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
// 环境变量按层级用下划线展开，例如 DB_HOST -> db.host，KINOPOISK_API_KEY -> kinopoisk.api_key
type Config struct {
	Env       string          `mapstructure:"app_env" default:"development"`
	Port      string          `mapstructure:"port" default:"5005"`
	APIToken  string          `mapstructure:"api_token"` // 为空时 API 不校验令牌
	Log       LogConfig       `mapstructure:"log"`
	DB        DatabaseConfig  `mapstructure:"db"`
	IMDb      IMDbConfig      `mapstructure:"imdb"`
	Kinopoisk KinopoiskConfig `mapstructure:"kinopoisk"`
	Wikipedia WikipediaConfig `mapstructure:"wikipedia"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Resync    ResyncConfig    `mapstructure:"resync"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"console"` // console 或 json
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" default:"localhost"`
	Port            int           `mapstructure:"port" default:"5432"`
	User            string        `mapstructure:"user" default:"postgres"`
	Password        string        `mapstructure:"password" default:"postgres"`
	Name            string        `mapstructure:"name" default:"kinomerge"`
	SSLMode         string        `mapstructure:"sslmode" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" default:"1h"`
}

// DSN 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// ClientConfig 外部数据源客户端的通用限制
type ClientConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" default:"20s"`
	RatePerSecond   float64       `mapstructure:"rate" default:"2"`
	Burst           int           `mapstructure:"burst" default:"2"`
	CacheSize       int           `mapstructure:"cache_size" default:"1000"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" default:"1h"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" default:"5"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" default:"30s"`
}

// IMDbConfig IMDb 抓取配置
type IMDbConfig struct {
	BaseURL string       `mapstructure:"base_url" default:"https://www.imdb.com"`
	Client  ClientConfig `mapstructure:"client"`
}

// KinopoiskConfig Kinopoisk API 配置
type KinopoiskConfig struct {
	BaseURL string       `mapstructure:"base_url" default:"https://kinopoiskapiunofficial.tech"`
	APIKey  string       `mapstructure:"api_key"`
	Client  ClientConfig `mapstructure:"client"`
}

// WikipediaConfig 维基百科配置
type WikipediaConfig struct {
	// BaseURL 中的 %s 替换为语言代码
	BaseURL string       `mapstructure:"base_url" default:"https://%s.wikipedia.org"`
	Langs   []string     `mapstructure:"langs" default:"en,ru"`
	Client  ClientConfig `mapstructure:"client"`
}

// QueueConfig 同步任务队列配置
type QueueConfig struct {
	Workers         int           `mapstructure:"workers" default:"4"`
	Size            int           `mapstructure:"size" default:"1000"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" default:"10m"`
	InitialInterval time.Duration `mapstructure:"initial_interval" default:"2s"`
	StageTimeout    time.Duration `mapstructure:"stage_timeout" default:"5m"` // 单个同步阶段的上限
}

// ResyncConfig 定期重新同步配置
type ResyncConfig struct {
	Enabled  bool          `mapstructure:"enabled" default:"true"`
	Interval time.Duration `mapstructure:"interval" default:"1h"`
	After    time.Duration `mapstructure:"after" default:"720h"`
	Batch    int           `mapstructure:"batch" default:"100"`
}

// ReconcileConfig 匹配引擎配置
type ReconcileConfig struct {
	MaxRelationAnchors int      `mapstructure:"max_relation_anchors" default:"5"`
	AnchorConcurrency  int      `mapstructure:"anchor_concurrency" default:"3"`
	ExcludedKinds      []string `mapstructure:"excluded_kinds" default:"tv series,tv mini series,video game,TV_SERIES,MINI_SERIES,TV_SHOW"`
	AuthorNotePattern  string   `mapstructure:"author_note_pattern" default:"(?i)story|novel"`
	CastMode           string   `mapstructure:"cast_mode" default:"existing"`
}

// Load 加载配置，path 为 .env 所在目录
func Load(path string) (*Config, error) {
	envPath := ".env"
	if path != "" && path != "." {
		envPath = path + "/.env"
	}
	// 生产环境通常没有 .env 文件
	_ = godotenv.Load(envPath)

	v := viper.New()
	setDefaults(v, reflect.TypeOf(Config{}), "")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.Queue.Workers <= 0 {
		return nil, fmt.Errorf("QUEUE_WORKERS 必须大于 0")
	}
	return &cfg, nil
}

// setDefaults 根据 default 标签注册默认值，同时让 AutomaticEnv 认识所有键
func setDefaults(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			setDefaults(v, field.Type, key)
			continue
		}
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
