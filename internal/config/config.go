package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v9"
)

const (
	AuthModeFirebase = "firebase"
	AuthModeHeader   = "header"

	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	// DB_DRIVER=sqlite runs against a local file and ignores the MySQL settings.
	DBDriver               string `env:"DB_DRIVER" envDefault:"mysql"`
	SQLitePath             string `env:"SQLITE_PATH" envDefault:"rental.db"`
	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBHost                 string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	// header mode trusts X-User-ID and is meant for local development only.
	AuthMode              string `env:"AUTH_MODE" envDefault:"firebase"`
	FirebaseProjectID     string `env:"FIREBASE_PROJECT_ID"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	StorageBucket         string `env:"STORAGE_BUCKET"`

	RedisURL        string        `env:"REDIS_URL"`
	SendRateLimit   int           `env:"SEND_RATE_LIMIT" envDefault:"30"`
	SendRateWindow  time.Duration `env:"SEND_RATE_WINDOW" envDefault:"1m"`
	CORSOriginHosts []string      `env:"CORS_ORIGIN_SUFFIXES" envSeparator:"," envDefault:"vercel.app"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.DBDriver == DriverMySQL && (cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "") {
		return nil, errors.New("DB_USER, DB_HOST and DB_NAME are required for the mysql driver")
	}
	if cfg.AuthMode != AuthModeFirebase && cfg.AuthMode != AuthModeHeader {
		return nil, errors.New("AUTH_MODE must be firebase or header")
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
