package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yeremiapane/tablesync/utils"
)

// Config holds every runtime setting. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	Env       string
	Port      string
	LogLevel  string
	LogFormat string

	DBDriver string
	DBDSN    string
	DBUser   string
	DBPass   string
	DBHost   string
	DBPort   string
	DBName   string

	JWTSecret          string
	QRSecret           string
	SessionTokenTTL    time.Duration
	AdminTokenTTL      time.Duration
	TokenRefreshWindow time.Duration
	BcryptCost         int

	ChannelCap        int
	AdminPingInterval time.Duration
	AdminPongGrace    time.Duration

	POSURL     string
	POSAPIKey  string
	POSTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	RabbitMQURL string
	EventsQueue string

	SessionIdleTTL time.Duration
	SweepInterval  time.Duration

	JoinRateLimit float64
	JoinRateBurst int

	AllowedOrigins []string
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debug("no .env file loaded")
	}

	return Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    os.Getenv("DB_DSN"),
		DBUser:   getEnv("DB_USER", "root"),
		DBPass:   os.Getenv("DB_PASS"),
		DBHost:   getEnv("DB_HOST", "127.0.0.1"),
		DBPort:   getEnv("DB_PORT", "3306"),
		DBName:   getEnv("DB_NAME", "tablesync"),

		JWTSecret:          getEnv("JWT_SECRET", "change-me"),
		QRSecret:           getEnv("QR_SECRET", "change-me-too"),
		SessionTokenTTL:    getDuration("SESSION_TOKEN_TTL", 3*time.Hour),
		AdminTokenTTL:      getDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
		TokenRefreshWindow: getDuration("TOKEN_REFRESH_WINDOW", 15*time.Minute),
		BcryptCost:         getInt("BCRYPT_COST", 10),

		ChannelCap:        getInt("CHANNEL_CAP", 20),
		AdminPingInterval: getDuration("ADMIN_PING_INTERVAL", 50*time.Second),
		AdminPongGrace:    getDuration("ADMIN_PONG_GRACE", 12*time.Second),

		POSURL:     os.Getenv("POS_URL"),
		POSAPIKey:  os.Getenv("POS_API_KEY"),
		POSTimeout: getDuration("POS_TIMEOUT", 30*time.Second),

		RedisAddr:     redisAddr(),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "tablesync:broadcast"),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		EventsQueue: getEnv("EVENTS_QUEUE", "tablesync.order_events"),

		SessionIdleTTL: getDuration("SESSION_IDLE_TTL", 4*time.Hour),
		SweepInterval:  getDuration("SWEEP_INTERVAL", time.Minute),

		JoinRateLimit: getFloat("RATE_LIMIT_JOIN_PER_SEC", 2),
		JoinRateBurst: getInt("RATE_LIMIT_JOIN_BURST", 10),

		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// redisAddr prefers REDIS_HOST+REDIS_PORT, then REDIS_ADDR. Empty disables Redis.
func redisAddr() string {
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		return host + ":" + port
	}
	return os.Getenv("REDIS_ADDR")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		utils.ErrorLogger.Warnf("invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		utils.ErrorLogger.Warnf("invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		utils.ErrorLogger.Warnf("invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
