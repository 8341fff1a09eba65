package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Roster    RosterConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Batch     BatchConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Driver        string
	URL           string
	SQLitePath    string
	MigrationsDir string
}

// RosterConfig selects where collaborator grants and display names live.
// "sql" reads them from the list database, "couchdb" from a CouchDB database.
type RosterConfig struct {
	Backend       string
	CouchHost     string
	CouchPort     string
	CouchUser     string
	CouchPassword string
	CouchName     string
}

type RedisConfig struct {
	URL         string
	LiveChannel string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type BatchConfig struct {
	MaxOperations int
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	writeWait, err := getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	pingPeriod, err := getEnvAsDuration("WS_PING_PERIOD", pongWait*9/10)
	if err != nil {
		return nil, err
	}
	if pingPeriod >= pongWait {
		return nil, fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)", pingPeriod, pongWait)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			URL:           getEnv("DATABASE_URL", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "data/shoplist.db"),
			MigrationsDir: getEnv("MIGRATIONS_DIR", ""),
		},
		Roster: RosterConfig{
			Backend:       strings.ToLower(getEnv("ROSTER_BACKEND", "sql")),
			CouchHost:     getEnv("COUCHDB_HOST", "localhost"),
			CouchPort:     getEnv("COUCHDB_PORT", "5984"),
			CouchUser:     getEnv("COUCHDB_USER", "admin"),
			CouchPassword: getEnv("COUCHDB_PASSWORD", "password"),
			CouchName:     getEnv("COUCHDB_NAME", "shoplist_roster"),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			LiveChannel: getEnv("LIVE_CHANNEL", "shoplist:lists-changed"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: jwtExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			WriteWait:       writeWait,
			PongWait:        pongWait,
			PingPeriod:      pingPeriod,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Batch: BatchConfig{
			MaxOperations: getEnvAsInt("BATCH_MAX_OPERATIONS", 200),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "postgresql", "pgx":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=%s", c.Database.Driver)
		}
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Roster.Backend {
	case "sql", "couchdb":
	default:
		return fmt.Errorf("unsupported ROSTER_BACKEND %q", c.Roster.Backend)
	}

	if c.Batch.MaxOperations < 1 {
		return fmt.Errorf("BATCH_MAX_OPERATIONS must be positive, got %d", c.Batch.MaxOperations)
	}
	return nil
}

// CouchURL is the kivik DSN for the roster database server.
func (r RosterConfig) CouchURL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", r.CouchUser, r.CouchPassword, r.CouchHost, r.CouchPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
