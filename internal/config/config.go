package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Enabled bool
	Brokers string
	Topic   string
}

type Config struct {
	Addr     string
	LogLevel string
	Region   string

	RedisAddr   string
	CachePrefix string
	CacheTTLOvr map[string]time.Duration

	TomTomKey      string
	HereKey        string
	OpenWeatherKey string

	BreakerThreshold int
	BreakerCooldown  time.Duration
	RetryAttempts    int
	RetryTimeout     time.Duration

	PollGood     time.Duration
	PollDegraded time.Duration

	PurgeEvery  time.Duration
	PurgeMaxAge time.Duration

	ProbeURL      string
	ProbeInterval time.Duration

	H3Res int

	MonitorMinLat float64
	MonitorMinLng float64
	MonitorMaxLat float64
	MonitorMaxLng float64

	Kafka KafkaCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8091"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Region:   getenv("REGION", "us-central"),

		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		CachePrefix: getenv("CACHE_PREFIX", "roadpulse"),
		CacheTTLOvr: parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),

		TomTomKey:      getenv("TOMTOM_API_KEY", ""),
		HereKey:        getenv("HERE_API_KEY", ""),
		OpenWeatherKey: getenv("OPENWEATHER_API_KEY", ""),

		BreakerThreshold: getint("BREAKER_THRESHOLD", 3),
		BreakerCooldown:  getduration("BREAKER_COOLDOWN", 30*time.Second),
		RetryAttempts:    getint("RETRY_ATTEMPTS", 3),
		RetryTimeout:     getduration("RETRY_ATTEMPT_TIMEOUT", 5*time.Second),

		PollGood:     getduration("POLL_INTERVAL_GOOD", 60*time.Second),
		PollDegraded: getduration("POLL_INTERVAL_DEGRADED", 180*time.Second),

		PurgeEvery:  getduration("CACHE_PURGE_EVERY", time.Hour),
		PurgeMaxAge: getduration("CACHE_PURGE_MAX_AGE", 7*24*time.Hour),

		ProbeURL:      getenv("NETMON_PROBE_URL", ""),
		ProbeInterval: getduration("NETMON_INTERVAL", 15*time.Second),

		H3Res: getint("H3_RES", 7),

		MonitorMinLat: getfloat("MONITOR_MIN_LAT", 40.70),
		MonitorMinLng: getfloat("MONITOR_MIN_LNG", -74.02),
		MonitorMaxLat: getfloat("MONITOR_MAX_LAT", 40.78),
		MonitorMaxLng: getfloat("MONITOR_MAX_LNG", -73.94),

		Kafka: KafkaCfg{
			Enabled: getbool("KAFKA_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "roadpulse-events"),
		},
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

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

// parse "traffic=5m,weather=30m" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
