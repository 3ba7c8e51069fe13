package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Credits    CreditsConfig
	Engagement EngagementConfig
	Referral   ReferralConfig
	RateLimit  RateLimitConfig
	Realtime   RealtimeConfig
	Eventing   EventingConfig
	Cron       CronConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Stripe     StripeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HALCYON_APP_ENV" required:"true"`
	Port         string `envconfig:"HALCYON_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HALCYON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HALCYON_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"HALCYON_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"HALCYON_DB_DSN"`
	Driver string `envconfig:"HALCYON_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"HALCYON_DB_HOST"`
	LegacyPort     int    `envconfig:"HALCYON_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"HALCYON_DB_USER"`
	LegacyPassword string `envconfig:"HALCYON_DB_PASSWORD"`
	LegacyName     string `envconfig:"HALCYON_DB_NAME"`
	LegacySSLMode  string `envconfig:"HALCYON_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HALCYON_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HALCYON_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HALCYON_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HALCYON_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"HALCYON_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HALCYON_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HALCYON_REDIS_ADDR"`
	Password     string        `envconfig:"HALCYON_REDIS_PASSWORD"`
	DB           int           `envconfig:"HALCYON_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HALCYON_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HALCYON_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HALCYON_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HALCYON_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HALCYON_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"HALCYON_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HALCYON_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HALCYON_JWT_EXPIRATION_MINUTES" required:"true"`
	SessionTTLMinutes int    `envconfig:"HALCYON_SESSION_TTL_MINUTES" default:"43200"`
}

// SessionTTL returns the session TTL configured in minutes.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

// CreditsConfig tunes the credit ledger.
type CreditsConfig struct {
	// MaxCreditAmount guards a single credit against metadata errors; larger
	// amounts are rejected as validation failures, not ledger failures.
	MaxCreditAmount int64  `envconfig:"HALCYON_CREDITS_MAX_CREDIT_AMOUNT" default:"1000000"`
	DefaultTier     string `envconfig:"HALCYON_CREDITS_DEFAULT_TIER" default:"free"`

	AllowanceFree       int64 `envconfig:"HALCYON_CREDITS_ALLOWANCE_FREE" default:"100"`
	AllowanceBasic      int64 `envconfig:"HALCYON_CREDITS_ALLOWANCE_BASIC" default:"500"`
	AllowancePro        int64 `envconfig:"HALCYON_CREDITS_ALLOWANCE_PRO" default:"2000"`
	AllowancePremium    int64 `envconfig:"HALCYON_CREDITS_ALLOWANCE_PREMIUM" default:"5000"`
	AllowanceEnterprise int64 `envconfig:"HALCYON_CREDITS_ALLOWANCE_ENTERPRISE" default:"20000"`
}

// AllowanceFor maps a tier name to its monthly credit allowance.
func (c CreditsConfig) AllowanceFor(tier string) int64 {
	switch strings.ToLower(tier) {
	case "basic":
		return c.AllowanceBasic
	case "pro":
		return c.AllowancePro
	case "premium":
		return c.AllowancePremium
	case "enterprise":
		return c.AllowanceEnterprise
	default:
		return c.AllowanceFree
	}
}

// EngagementConfig tunes the scoring model. The weights and constants are
// product-tuned values, not derived ones.
type EngagementConfig struct {
	WindowDays        int     `envconfig:"HALCYON_ENGAGEMENT_WINDOW_DAYS" default:"30"`
	CuriosityPerTopic float64 `envconfig:"HALCYON_ENGAGEMENT_CURIOSITY_PER_TOPIC" default:"4"`
	DepthScale        float64 `envconfig:"HALCYON_ENGAGEMENT_DEPTH_SCALE" default:"6"`
}

type ReferralConfig struct {
	DefaultRate string        `envconfig:"HALCYON_REFERRAL_DEFAULT_RATE" default:"0.05"`
	MaxRate     string        `envconfig:"HALCYON_REFERRAL_MAX_RATE" default:"0.15"`
	TTL         time.Duration `envconfig:"HALCYON_REFERRAL_TTL" default:"2160h"`
}

type RateLimitConfig struct {
	Requests int64         `envconfig:"HALCYON_RATE_LIMIT_REQUESTS" default:"120"`
	Window   time.Duration `envconfig:"HALCYON_RATE_LIMIT_WINDOW" default:"1m"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration `envconfig:"HALCYON_REALTIME_HEARTBEAT_INTERVAL" default:"30s"`
	WriteTimeout      time.Duration `envconfig:"HALCYON_REALTIME_WRITE_TIMEOUT" default:"10s"`
	ReadTimeout       time.Duration `envconfig:"HALCYON_REALTIME_READ_TIMEOUT" default:"90s"`
	SendBuffer        int           `envconfig:"HALCYON_REALTIME_SEND_BUFFER" default:"32"`

	ReconnectBaseDelay   time.Duration `envconfig:"HALCYON_REALTIME_RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay    time.Duration `envconfig:"HALCYON_REALTIME_RECONNECT_MAX_DELAY" default:"30s"`
	ReconnectMaxAttempts int           `envconfig:"HALCYON_REALTIME_RECONNECT_MAX_ATTEMPTS" default:"5"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"HALCYON_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	QueueDepth     int           `envconfig:"HALCYON_EVENTING_QUEUE_DEPTH" default:"256"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"HALCYON_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"HALCYON_CRON_LOCK_TTL" default:"55m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"HALCYON_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"HALCYON_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"HALCYON_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	InteractionsTopic        string `envconfig:"HALCYON_PUBSUB_INTERACTIONS_TOPIC" default:"hx-interaction-events"`
	InteractionsSubscription string `envconfig:"HALCYON_PUBSUB_INTERACTIONS_SUBSCRIPTION"`
}

type StripeConfig struct {
	APIKey string `envconfig:"HALCYON_STRIPE_API_KEY"`
	Secret string `envconfig:"HALCYON_STRIPE_SECRET"`
	Env    string `envconfig:"HALCYON_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
