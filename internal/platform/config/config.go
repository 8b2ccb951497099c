package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is the complete process configuration, read once at startup.
type Config struct {
	Server      Server
	Store       StoreConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Chains      ChainConfig
	GitHub      GitHubConfig
	DNS         DNSConfig
	Proofs      ProofConfig
	Attestation AttestationConfig
	Reverify    ReverifyConfig
	LogLevel    slog.Level
}

// Server captures the ops HTTP listener configuration.
type Server struct {
	Addr string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string // "memory" or "postgres"
	DatabaseURL string
}

// RedisConfig configures the optional Redis client used for the
// re-verification run lock. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit stream. No brokers means audit events are
// only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ChainConfig maps chain ids to JSON-RPC endpoints.
type ChainConfig struct {
	RPCURLs map[int64]string
}

// ChainIDs returns the configured chain ids in ascending order.
func (c ChainConfig) ChainIDs() []int64 {
	ids := make([]int64, 0, len(c.RPCURLs))
	for id := range c.RPCURLs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type GitHubConfig struct {
	APIURL string
	Token  string
}

// DNSConfig selects the resolver. An empty server uses the system resolver;
// otherwise queries go directly to host:port.
type DNSConfig struct {
	Server string
}

// ProofConfig bounds each proof check and its retries.
type ProofConfig struct {
	Timeout              time.Duration
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// ReverifyConfig controls the periodic re-verification scheduler.
// AttestationConfig bounds how long a cached active signing key is trusted
// before the store is asked again.
type AttestationConfig struct {
	KeyReloadInterval time.Duration
}

type ReverifyConfig struct {
	Cron        string
	MaxProofAge time.Duration
	MaxFailures int
	BatchSize   int
	RetryDelay  time.Duration
	LockTTL     time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := envReader{lookup: lookup}

	cfg := Config{
		Server: Server{
			Addr: r.str("TOKENVERIF_ADDR", ":8080"),
		},
		Store: StoreConfig{
			Driver:      r.str("STORE", ""),
			DatabaseURL: r.str("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: r.list("KAFKA_BROKERS"),
			Topic:   r.str("KAFKA_TOPIC", "tokenverif.events"),
		},
		GitHub: GitHubConfig{
			APIURL: r.str("GITHUB_API_URL", "https://api.github.com"),
			Token:  r.str("GITHUB_TOKEN", ""),
		},
		DNS: DNSConfig{
			Server: r.str("DNS_SERVER", ""),
		},
		Proofs: ProofConfig{
			Timeout:              r.duration("PROOF_TIMEOUT", 10*time.Second),
			RetryMaxAttempts:     r.int("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialInterval: r.duration("RETRY_INITIAL_INTERVAL", 250*time.Millisecond),
			RetryMaxInterval:     r.duration("RETRY_MAX_INTERVAL", 2*time.Second),
		},
		Attestation: AttestationConfig{
			KeyReloadInterval: r.duration("SIGNING_KEY_RELOAD_INTERVAL", time.Minute),
		},
		Reverify: ReverifyConfig{
			Cron:        r.str("REVERIFY_CRON", "@hourly"),
			MaxProofAge: r.duration("REVERIFY_MAX_PROOF_AGE", 720*time.Hour),
			MaxFailures: r.int("REVERIFY_MAX_FAILURES", 3),
			BatchSize:   r.int("REVERIFY_BATCH_SIZE", 50),
			RetryDelay:  r.duration("REVERIFY_RETRY_DELAY", 24*time.Hour),
			LockTTL:     r.duration("REVERIFY_LOCK_TTL", 10*time.Minute),
		},
		LogLevel: r.level("LOG_LEVEL", slog.LevelInfo),
	}

	chains, err := ParseChainRPCURLs(r.str("CHAIN_RPC_URLS", ""))
	if err != nil {
		r.errs = append(r.errs, err)
	}
	cfg.Chains = ChainConfig{RPCURLs: chains}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Driver = "postgres"
		}
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			r.errs = append(r.errs, fmt.Errorf("DATABASE_URL is required when STORE=postgres"))
		}
	default:
		r.errs = append(r.errs, fmt.Errorf("STORE must be memory or postgres, got %q", cfg.Store.Driver))
	}
	if cfg.Reverify.MaxFailures < 1 {
		r.errs = append(r.errs, fmt.Errorf("REVERIFY_MAX_FAILURES must be at least 1"))
	}
	if cfg.Reverify.BatchSize < 1 {
		r.errs = append(r.errs, fmt.Errorf("REVERIFY_BATCH_SIZE must be at least 1"))
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return cfg, nil
}

// ParseChainRPCURLs parses "1=https://a,8453=https://b" into a chain map.
func ParseChainRPCURLs(raw string) (map[int64]string, error) {
	out := make(map[int64]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idPart, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("CHAIN_RPC_URLS entry %q must be chainId=url", pair)
		}
		chainID, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil || chainID <= 0 {
			return nil, fmt.Errorf("CHAIN_RPC_URLS entry %q has invalid chain id", pair)
		}
		out[chainID] = strings.TrimSpace(url)
	}
	return out, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *envReader) list(key string) []string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) level(key string, def slog.Level) slog.Level {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return lvl
}
