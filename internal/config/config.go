// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// StoreKind selects the validation log backend.
type StoreKind string

const (
	StoreMemory       StoreKind = "memory"
	StorePostgres     StoreKind = "postgres"
	StoreGormPostgres StoreKind = "gorm-postgres"
	StoreSQLite       StoreKind = "sqlite"
)

// Config holds every runtime setting of the API process.
type Config struct {
	HTTPAddr   string
	GRPCAddr   string
	Store      StoreKind
	PGDSN      string
	SQLitePath string
	AuthSecret string

	// BootstrapSecret guards /v1/auth/token; without it no tokens are minted
	// over HTTP.
	BootstrapSecret string
	TrustedProxies  []netip.Prefix
	RateBurst       int
	RatePerSec      float64
	Version         string
	Commit          string
	LogLevel        string
}

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("config: invalid")

// Load reads .env files (missing ones are ignored; already set variables win)
// and then the process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: load %s: %v", ErrInvalid, f, err)
		}
	}
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from getenv, applying defaults.
func FromLookup(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	cfg := Config{
		HTTPAddr:   get("IDCARD_HTTP_ADDR", ":8080"),
		GRPCAddr:   get("IDCARD_GRPC_ADDR", ":9090"),
		Store:      StoreKind(strings.ToLower(get("IDCARD_STORE", string(StoreMemory)))),
		PGDSN:      get("IDCARD_PG_DSN", ""),
		SQLitePath: get("IDCARD_SQLITE_PATH", "data/idcard.db"),
		AuthSecret: get("IDCARD_AUTH_SECRET", ""),
		Version:    get("IDCARD_VERSION", "dev"),
		Commit:     get("IDCARD_COMMIT", "unknown"),
		LogLevel:   get("IDCARD_LOG_LEVEL", "info"),

		BootstrapSecret: get("IDCARD_TOKEN_BOOTSTRAP_SECRET", ""),
	}

	var err error
	if cfg.RateBurst, err = strconv.Atoi(get("IDCARD_RATE_BURST", "20")); err != nil || cfg.RateBurst <= 0 {
		return Config{}, fmt.Errorf("%w: IDCARD_RATE_BURST must be a positive integer", ErrInvalid)
	}
	if cfg.RatePerSec, err = strconv.ParseFloat(get("IDCARD_RATE_PER_SEC", "10"), 64); err != nil || cfg.RatePerSec <= 0 {
		return Config{}, fmt.Errorf("%w: IDCARD_RATE_PER_SEC must be a positive number", ErrInvalid)
	}

	if cfg.TrustedProxies, err = parseProxies(get("IDCARD_TRUSTED_PROXIES", "")); err != nil {
		return Config{}, err
	}
	if cfg.BootstrapSecret != "" && cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("%w: IDCARD_TOKEN_BOOTSTRAP_SECRET requires IDCARD_AUTH_SECRET", ErrInvalid)
	}

	switch cfg.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres, StoreGormPostgres:
		if cfg.PGDSN == "" {
			return Config{}, fmt.Errorf("%w: IDCARD_PG_DSN is required for store %q", ErrInvalid, cfg.Store)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown IDCARD_STORE %q", ErrInvalid, cfg.Store)
	}
	return cfg, nil
}

// parseProxies reads a comma separated list of addresses or CIDR prefixes.
func parseProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("%w: IDCARD_TRUSTED_PROXIES entry %q: %v", ErrInvalid, item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("%w: IDCARD_TRUSTED_PROXIES entry %q: %v", ErrInvalid, item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
