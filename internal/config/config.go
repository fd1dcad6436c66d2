// Package config resolves the deployment configuration. Precedence is
// process environment > .env file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

type DBCfg struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders lib/pq connection parameters.
func (d DBCfg) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.User),
		fmt.Sprintf("dbname=%s", d.Name),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	return strings.Join(parts, " ")
}

type InvalidationCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	DB DBCfg

	// Routing fleet. WorkerURLs is the ordered affinity list; a single
	// OTP_URL is a fleet of one.
	WorkerURLs        []string
	OTPTimeout        time.Duration
	OTPMaxPerWorker   int
	OTPMaxIdleConns   int
	HealthTimeout     time.Duration
	WaitAttempts      int
	WaitInterval      time.Duration

	Cutoffs      []int
	DayTypeDates map[model.DayType]string
	TZOffset     string

	BatchSize        int
	MaxBatches       int
	Parallelism      int
	StaleHorizon     time.Duration
	PriorityBoroughs []string

	// Serving-side response cache. RedisAddr empty disables the L2 tier.
	RedisAddr     string
	ResCacheSize  int
	ResCacheTTL   time.Duration
	ResCacheH3Res int

	Invalidation InvalidationCfg
}

// Load reads an optional .env file, then resolves from the environment.
// godotenv never overrides variables already set, which gives the required
// precedence.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	otpTimeout := getduration("OTP_TIMEOUT", 60*time.Second)

	return Config{
		Addr:     getenv("ADDR", ":3001"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DB: DBCfg{
			Host:         getenv("DB_HOST", "localhost"),
			Port:         getint("DB_PORT", 5432),
			User:         getenv("DB_USER", "isochrone"),
			Password:     getenv("DB_PASSWORD", ""),
			Name:         getenv("DB_NAME", "isochrone"),
			SSLMode:      getenv("DB_SSLMODE", "disable"),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getint("DB_MAX_IDLE_CONNS", 5),
		},

		WorkerURLs:      workerURLs(),
		OTPTimeout:      otpTimeout,
		OTPMaxPerWorker: getint("OTP_MAX_CONNS_PER_WORKER", 10),
		OTPMaxIdleConns: getint("OTP_MAX_IDLE_CONNS", 40),
		HealthTimeout:   getduration("OTP_HEALTH_TIMEOUT", 5*time.Second),
		WaitAttempts:    getint("OTP_WAIT_ATTEMPTS", 30),
		WaitInterval:    getduration("OTP_WAIT_INTERVAL", 10*time.Second),

		Cutoffs:      parseIntList(getenv("CUTOFF_MINUTES", ""), model.DefaultCutoffs()),
		DayTypeDates: dayTypeDates(),
		TZOffset:     getenv("TZ_OFFSET", "-05:00"),

		BatchSize:        getint("BATCH_SIZE", 100),
		MaxBatches:       getint("BATCH_MAX_BATCHES", 1000),
		Parallelism:      getint("BATCH_PARALLELISM", 15),
		StaleHorizon:     getduration("BATCH_STALE_HORIZON", 2*otpTimeout),
		PriorityBoroughs: parseStringList(getenv("PRIORITY_BOROUGHS", ""), model.PriorityBoroughs()),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		ResCacheSize:  getint("RESPONSE_CACHE_SIZE", 4096),
		ResCacheTTL:   getduration("RESPONSE_CACHE_TTL", 10*time.Minute),
		ResCacheH3Res: getint("RESPONSE_CACHE_H3_RES", 10),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: parseStringList(getenv("KAFKA_BROKERS", ""), []string{"localhost:9092"}),
			Topic:   getenv("KAFKA_TOPIC", "graph-rebuild"),
			GroupID: getenv("KAFKA_GROUP_ID", "isochrone-invalidator"),
		},
	}
}

// worker fleet: explicit list wins, otherwise a fleet of one
func workerURLs() []string {
	if raw := getenv("OTP_WORKER_URLS", ""); raw != "" {
		return parseStringList(raw, nil)
	}
	return []string{getenv("OTP_URL", "http://localhost:8080")}
}

func dayTypeDates() map[model.DayType]string {
	return map[model.DayType]string{
		model.DayWeekday:  getenv("DATE_WEEKDAY", "2025-01-15"),
		model.DaySaturday: getenv("DATE_SATURDAY", "2025-01-18"),
		model.DaySunday:   getenv("DATE_SUNDAY", "2025-01-19"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "15,30,45" into a sorted int list
func parseIntList(s string, def []int) []int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	out := make([]int, 0, 8)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return def
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return def
	}
	sort.Ints(out)
	return out
}

func parseStringList(s string, def []string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	out := make([]string, 0, 8)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
