package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Asia/Shanghai"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr   string `envconfig:"REDIS_ADDR"`
	LockBackend string `envconfig:"LOCK_BACKEND" default:"memory"`

	Scheduler struct {
		Tick    time.Duration `envconfig:"SCHEDULER_TICK" default:"1m"`
		Workers int           `envconfig:"SCHEDULER_WORKERS" default:"4"`
		LockTTL time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"30m"`
	} `envconfig:""`

	Retry struct {
		Attempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
		Initial  time.Duration `envconfig:"RETRY_INITIAL" default:"2s"`
		Max      time.Duration `envconfig:"RETRY_MAX" default:"30s"`
	} `envconfig:""`

	Analysis struct {
		HighCitationThreshold int `envconfig:"HIGH_CITATION_THRESHOLD" default:"50"`
		TrendBuckets          int `envconfig:"TREND_BUCKETS" default:"12"`
		TrendCompareBuckets   int `envconfig:"TREND_COMPARE_BUCKETS" default:"4"`
		SnapshotRetention     int `envconfig:"SNAPSHOT_RETENTION" default:"10"`
		HighlightsPerReport   int `envconfig:"REPORT_HIGHLIGHTS" default:"5"`
	} `envconfig:""`

	PubMed struct {
		BaseURL    string  `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
		APIKey     string  `envconfig:"PUBMED_API_KEY"`
		RPS        float64 `envconfig:"PUBMED_RPS" default:"3"`
		MaxResults int     `envconfig:"PUBMED_MAX_RESULTS" default:"200"`
		ICiteURL   string  `envconfig:"ICITE_URL" default:"https://icite.od.nih.gov/api"`
	} `envconfig:""`

	Report struct {
		OutputDir     string `envconfig:"REPORT_DIR" default:"PPT"`
		TemplatesFile string `envconfig:"TEMPLATES_FILE"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	SMTP struct {
		Host     string `envconfig:"SMTP_HOST"`
		Port     int    `envconfig:"SMTP_PORT" default:"587"`
		Username string `envconfig:"SMTP_USERNAME"`
		Password string `envconfig:"SMTP_PASSWORD"`
		From     string `envconfig:"SMTP_FROM"`
		LinkBase string `envconfig:"REPORT_LINK_BASE"`
	} `envconfig:""`

	SMS struct {
		URL     string        `envconfig:"SMS_GATEWAY_URL"`
		Token   string        `envconfig:"SMS_GATEWAY_TOKEN"`
		Sender  string        `envconfig:"SMS_SENDER" default:"MedBrief"`
		Timeout time.Duration `envconfig:"SMS_TIMEOUT" default:"10s"`
	} `envconfig:""`

	AppPush struct {
		RabbitURL  string `envconfig:"RABBITMQ_URL"`
		Exchange   string `envconfig:"APP_PUSH_EXCHANGE" default:"medbrief.push"`
		RoutingKey string `envconfig:"APP_PUSH_ROUTING_KEY" default:"report.ready"`
	} `envconfig:""`

	Recipients struct {
		Email []string `envconfig:"DEFAULT_EMAIL_RECIPIENTS"`
		IM    []string `envconfig:"DEFAULT_IM_RECIPIENTS"`
		SMS   []string `envconfig:"DEFAULT_SMS_RECIPIENTS"`
		App   []string `envconfig:"DEFAULT_APP_RECIPIENTS"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс расписания. При ошибке используется UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.TZ))
	if err != nil {
		return time.UTC
	}
	return loc
}
