package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string // API bind address
	LogDir      string // logs directory
	DatabaseURL string // postgres DSN; empty means sqlite
	SQLitePath  string // sqlite database file
	PauseFile   string // emergency pause marker path

	Tick        time.Duration // scheduler selection pass interval
	MinInterval time.Duration // probe cadence floor per canonical target
	HTTPTimeout time.Duration // http probe timeout
	PortTimeout time.Duration // tcp probe timeout
	Concurrency int           // probe worker pool size

	PublicAPIKeys []string
	AdminAPIKeys  []string
	PublicRPM     int
	PublicBurst   int
	AdminRPM      int
	AdminBurst    int

	WebhookURL string // failed-charge notifications; empty disables
}

func FromEnv() Config {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/probemeter.db"
	}

	pauseFile := os.Getenv("PAUSE_FILE")
	if pauseFile == "" {
		pauseFile = "data/EMERGENCY_PAUSE"
	}

	return Config{
		Addr:        addr,
		LogDir:      logDir,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  sqlitePath,
		PauseFile:   pauseFile,

		Tick:        envDurationMS("TICK_MS", time.Second),
		MinInterval: envDurationS("MIN_INTERVAL_S", 30*time.Second),
		HTTPTimeout: envDurationMS("HTTP_TIMEOUT_MS", 10*time.Second),
		PortTimeout: envDurationMS("PORT_TIMEOUT_MS", 5*time.Second),
		Concurrency: envInt("MAX_CONCURRENT_PROBES", 4),

		PublicAPIKeys: splitCSV(os.Getenv("PUBLIC_API_KEYS")),
		AdminAPIKeys:  splitCSV(os.Getenv("ADMIN_API_KEYS")),
		PublicRPM:     envInt("PUBLIC_RPM", 120),
		PublicBurst:   envInt("PUBLIC_BURST", 60),
		AdminRPM:      envInt("ADMIN_RPM", 600),
		AdminBurst:    envInt("ADMIN_BURST", 120),

		WebhookURL: os.Getenv("WEBHOOK_URL"),
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDurationMS(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func envDurationS(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
