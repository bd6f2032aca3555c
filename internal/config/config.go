package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"SegmentSync/internal/model"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig  `mapstructure:"database"` // PostgreSQL配置
	Strava   StravaConfig    `mapstructure:"strava"`   // 上游运动平台配置
	Sync     SyncConfig      `mapstructure:"sync"`     // 同步调度配置
	Segments []SegmentConfig `mapstructure:"segments"` // 挑战赛追踪的路段
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// StravaConfig 上游API配置
type StravaConfig struct {
	BaseURL      string `mapstructure:"base_url"`      // API基础地址，如 https://www.strava.com/api/v3
	OAuthURL     string `mapstructure:"oauth_url"`     // 令牌接口地址，如 https://www.strava.com/oauth/token
	ClientID     string `mapstructure:"client_id"`     // OAuth client_id
	ClientSecret string `mapstructure:"client_secret"` // OAuth client_secret
	Timeout      int    `mapstructure:"timeout"`       // 请求超时（秒）
	Proxy        string `mapstructure:"proxy"`         // 代理地址
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	Cron            string        `mapstructure:"cron"`              // 定时同步Cron表达式，为空则不启用
	RunOnStart      bool          `mapstructure:"run_on_start"`      // 启动时立即同步一次
	ChallengeStart  string        `mapstructure:"challenge_start"`   // 挑战开始日期（YYYY-MM-DD 或 RFC3339）
	PerPage         int           `mapstructure:"per_page"`          // 每页活动数
	FullResyncPages int           `mapstructure:"full_resync_pages"` // 全量重算最多翻页数
	DetailInterval  time.Duration `mapstructure:"detail_interval"`   // 详情接口最小调用间隔
	RunnerInterval  time.Duration `mapstructure:"runner_interval"`   // 选手之间的固定间隔
	ActivityTypes   []string      `mapstructure:"activity_types"`    // 计入统计的活动类型
	WriteRetries    int           `mapstructure:"write_retries"`     // 批量写回失败重试次数
}

// SegmentConfig 单个追踪路段
type SegmentConfig struct {
	ID   int64  `mapstructure:"id"`   // 上游路段ID
	Name string `mapstructure:"name"` // 展示名称
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load()

	// 2. 读取 config.yaml
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("strava.base_url", "https://www.strava.com/api/v3")
	v.SetDefault("strava.oauth_url", "https://www.strava.com/oauth/token")
	v.SetDefault("strava.timeout", 30)
	v.SetDefault("sync.per_page", 50)
	v.SetDefault("sync.full_resync_pages", 10)
	v.SetDefault("sync.detail_interval", "1500ms")
	v.SetDefault("sync.runner_interval", "1s")
	v.SetDefault("sync.activity_types", []string{"Run", "Walk", "Hike"})
	v.SetDefault("sync.write_retries", 3)
}

// applyDefaults 兜底：配置文件显式写了0值时仍保证同步节奏不低于上游限额要求
func (c *Config) applyDefaults() {
	if c.Sync.PerPage <= 0 {
		c.Sync.PerPage = 50
	}
	if c.Sync.FullResyncPages <= 0 {
		c.Sync.FullResyncPages = 10
	}
	if c.Sync.DetailInterval < 500*time.Millisecond {
		c.Sync.DetailInterval = 500 * time.Millisecond
	}
	if c.Sync.RunnerInterval < time.Second {
		c.Sync.RunnerInterval = time.Second
	}
	if len(c.Sync.ActivityTypes) == 0 {
		c.Sync.ActivityTypes = []string{"Run", "Walk", "Hike"}
	}
	if c.Sync.WriteRetries < 0 {
		c.Sync.WriteRetries = 0
	}
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("STRAVA_CLIENT_ID"); v != "" {
		cfg.Strava.ClientID = v
	}
	if v := os.Getenv("STRAVA_CLIENT_SECRET"); v != "" {
		cfg.Strava.ClientSecret = v
	}
	if v := os.Getenv("STRAVA_PROXY"); v != "" {
		cfg.Strava.Proxy = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

// Challenge 构建进程级只读的挑战配置（起始时间、追踪路段、活动类型），启动时调用一次
func (c *Config) Challenge() (*model.Challenge, error) {
	start, err := parseChallengeStart(c.Sync.ChallengeStart)
	if err != nil {
		return nil, err
	}
	if len(c.Segments) == 0 {
		return nil, fmt.Errorf("未配置任何追踪路段")
	}
	segments := make([]model.Segment, 0, len(c.Segments))
	for _, s := range c.Segments {
		segments = append(segments, model.Segment{ID: s.ID, Name: strings.TrimSpace(s.Name)})
	}
	set, err := model.NewSegmentSet(segments)
	if err != nil {
		return nil, err
	}
	return model.NewChallenge(start, set, c.Sync.ActivityTypes), nil
}

func parseChallengeStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("sync.challenge_start 未配置")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("sync.challenge_start 格式错误: %s", s)
}
