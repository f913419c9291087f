// Package config reads the holey configuration file.
//
// The file is TOML. Every setting is optional; missing ones keep the values
// from Default(). A complete file looks like
//
//	sentry_dsn = ""
//	keychain_file = "~/.holey/keychain.json"
//
//	[bag]
//	algorithms = ["md5", "sha256"]
//	workers = 4
//	fold_width = 79
//	throttle = 0          # bytes per second read while hashing, 0 is unlimited
//
//	[fetch]
//	connect_timeout = "30s"
//	read_timeout = "1m"
//	retries = 3
//	backoff = "1s"
//	retry_codes = [500, 502, 503, 504]
//	bundled_roots = false
//	concurrency = 1
//	globus_api = "https://transfer.api.globus.org/v0.10"
//	globus_poll = "10s"
//	[fetch.schemes]
//	dav = "http"
//
//	[[resolver]]
//	scheme = "minid"
//	endpoint = "https://identifiers.org/"
//	kind = "minid"
//
//	[[keychain]]
//	uri = "https://data.example.org/"
//	auth_type = "bearer-token"
//	params = { token = "..." }
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
	"github.com/ndlib/holey/resolve"
	"github.com/ndlib/holey/transport"
	"github.com/ndlib/holey/util"
)

// Config holds every setting.
type Config struct {
	SentryDSN    string     `toml:"sentry_dsn"`
	KeychainFile string     `toml:"keychain_file"`
	Bag          Bag        `toml:"bag"`
	Fetch        Fetch      `toml:"fetch"`
	Resolver     []Resolver `toml:"resolver"`
	Keychain     []Key      `toml:"keychain"`
}

// Bag holds the settings used when making and updating bags.
type Bag struct {
	Algorithms []string `toml:"algorithms"`
	Workers    int      `toml:"workers"`
	FoldWidth  int      `toml:"fold_width"`
	Agent      string   `toml:"agent"`
	Throttle   float64  `toml:"throttle"`
}

// Fetch holds the settings for downloading remote files.
type Fetch struct {
	ConnectTimeout Duration          `toml:"connect_timeout"`
	ReadTimeout    Duration          `toml:"read_timeout"`
	Retries        int               `toml:"retries"`
	Backoff        Duration          `toml:"backoff"`
	RetryCodes     []int             `toml:"retry_codes"`
	BundledRoots   bool              `toml:"bundled_roots"`
	Concurrency    int               `toml:"concurrency"`
	Schemes        map[string]string `toml:"schemes"`
	GlobusAPI      string            `toml:"globus_api"`
	GlobusPoll     Duration          `toml:"globus_poll"`
}

// Resolver is one identifier resolution service.
type Resolver struct {
	Scheme   string `toml:"scheme"`
	Prefix   string `toml:"prefix"`
	Endpoint string `toml:"endpoint"`
	Kind     string `toml:"kind"`
}

// Key is one keychain entry.
type Key struct {
	URI      string            `toml:"uri"`
	AuthType string            `toml:"auth_type"`
	Params   map[string]string `toml:"params"`
}

// Duration is a time.Duration written as a string, e.g. "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ErrUnknownSetting means the file has a key this package does not know,
// which is usually a misspelling.
var ErrUnknownSetting = errors.New("unknown setting")

// Default returns the settings used when there is no configuration file.
func Default() *Config {
	return &Config{
		Bag: Bag{
			Algorithms: []string{"md5", "sha256"},
			Workers:    4,
			FoldWidth:  79,
		},
		Fetch: Fetch{
			ConnectTimeout: Duration{transport.DefaultConnectTimeout},
			ReadTimeout:    Duration{transport.DefaultReadTimeout},
			Retries:        transport.DefaultRetries,
			Backoff:        Duration{transport.DefaultBackoff},
			Concurrency:    1,
			GlobusAPI:      transport.DefaultGlobusAPI,
		},
	}
}

// DefaultPath is the configuration file read when none is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".holey", "config.toml")
}

// Load reads the configuration file at path on top of Default(). An empty
// path means DefaultPath(), and it is not an error for that file to be
// missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}
	md, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Wrapf(ErrUnknownSetting, "config %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.KeychainFile = expandHome(cfg.KeychainFile)
	if err := cfg.Check(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Check returns an error if a setting has a value that cannot be used.
func (c *Config) Check() error {
	if _, err := util.FilterAlgorithms(c.Bag.Algorithms); err != nil {
		return err
	}
	if c.Bag.Workers < 0 || c.Bag.Throttle < 0 || c.Fetch.Retries < 0 {
		return errors.New("workers, throttle and retries cannot be negative")
	}
	for _, r := range c.Resolver {
		if _, err := resolve.ParseKind(r.Kind); err != nil {
			return errors.Wrapf(err, "resolver %s", r.Endpoint)
		}
	}
	for _, k := range c.Keychain {
		if keychain.ParseAuthType(k.AuthType) == keychain.AuthUnknown {
			return errors.Errorf("keychain entry %s: unknown auth type %q", k.URI, k.AuthType)
		}
	}
	return nil
}

// Transport returns the settings for a transport.Registry.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		ConnectTimeout: c.Fetch.ConnectTimeout.Duration,
		ReadTimeout:    c.Fetch.ReadTimeout.Duration,
		Retries:        c.Fetch.Retries,
		Backoff:        c.Fetch.Backoff.Duration,
		RetryCodes:     c.Fetch.RetryCodes,
		BundledRoots:   c.Fetch.BundledRoots,
		Schemes:        c.Fetch.Schemes,
		GlobusAPI:      c.Fetch.GlobusAPI,
		GlobusPoll:     c.Fetch.GlobusPoll.Duration,
	}
}

// Services returns the resolver services, or resolve.DefaultServices if
// none are configured.
func (c *Config) Services() ([]resolve.Service, error) {
	if len(c.Resolver) == 0 {
		return resolve.DefaultServices, nil
	}
	var result []resolve.Service
	for _, r := range c.Resolver {
		kind, err := resolve.ParseKind(r.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "resolver %s", r.Endpoint)
		}
		result = append(result, resolve.Service{
			Scheme:   r.Scheme,
			Prefix:   r.Prefix,
			Endpoint: r.Endpoint,
			Kind:     kind,
		})
	}
	return result, nil
}

// Keys returns the keychain: the entries in the configuration file
// followed by those in the keychain file, if there is one.
func (c *Config) Keys() (keychain.Keychain, error) {
	var result keychain.Keychain
	for _, k := range c.Keychain {
		result = append(result, keychain.Entry{
			URI:      k.URI,
			AuthType: keychain.ParseAuthType(k.AuthType),
			Params:   k.Params,
		})
	}
	if c.KeychainFile == "" {
		return result, nil
	}
	more, err := LoadKeychain(c.KeychainFile)
	if os.IsNotExist(errors.Cause(err)) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return append(result, more...), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
