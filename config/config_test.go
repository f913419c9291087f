package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
	"github.com/ndlib/holey/resolve"
)

const sampleConfig = `
keychain_file = "%s"

[bag]
algorithms = ["sha256", "blake3"]
workers = 8

[fetch]
connect_timeout = "5s"
read_timeout = "1m30s"
retry_codes = [503]
concurrency = 4
[fetch.schemes]
dav = "http"

[[resolver]]
scheme = "ark"
prefix = "57799/"
endpoint = "https://minid.example/"
kind = "minid"

[[resolver]]
scheme = "ark"
endpoint = "https://n2t.example/"
kind = "template"

[[keychain]]
uri = "https://data.example.org/"
auth_type = "bearer-token"
params = { token = "abc" }
`

const sampleKeychain = `[
	{"uri": "ftp://ftp.example.org/", "auth_type": "ftp-basic",
	 "auth_params": {"username": "anon", "password": 1234, "passive": true}},
	{"uri": "x://", "auth_type": "carrier-pigeon", "auth_params": {}}
]`

func writeTemp(t *testing.T, name, content string) string {
	fname := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(fname, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestLoad(t *testing.T) {
	kc := writeTemp(t, "keychain.json", sampleKeychain)
	fname := writeTemp(t, "config.toml", strings.Replace(sampleConfig, "%s", kc, 1))
	cfg, err := Load(fname)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bag.Algorithms) != 2 || cfg.Bag.Algorithms[1] != "blake3" || cfg.Bag.Workers != 8 {
		t.Errorf("bag = %+v", cfg.Bag)
	}
	// unset values keep their defaults
	if cfg.Bag.FoldWidth != 79 || cfg.Fetch.Retries != Default().Fetch.Retries {
		t.Errorf("defaults lost: %+v %+v", cfg.Bag, cfg.Fetch)
	}
	tc := cfg.Transport()
	if tc.ConnectTimeout != 5*time.Second || tc.ReadTimeout != 90*time.Second || len(tc.RetryCodes) != 1 {
		t.Errorf("transport = %+v", tc)
	}
	if tc.Schemes["dav"] != "http" {
		t.Errorf("schemes = %v", tc.Schemes)
	}

	services, err := cfg.Services()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 2 || services[0].Kind != resolve.KindMinid || services[1].Kind != resolve.KindTemplate {
		t.Errorf("services = %+v", services)
	}

	keys, err := cfg.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("keychain = %+v", keys)
	}
	if keys[0].AuthType != keychain.BearerToken || keys[0].Param("token") != "abc" {
		t.Errorf("first entry = %+v", keys[0])
	}
	if keys[1].AuthType != keychain.FTPBasic || keys[1].Param("password") != "1234" || keys[1].Param("passive") != "true" {
		t.Errorf("second entry = %+v", keys[1])
	}

	b, err := cfg.NewBagger(nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Registry == nil || b.Resolver == nil || !b.Resolver.Handles("ark") || b.Resolver.Handles("doi") {
		t.Errorf("bagger not wired: %+v", b)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	services, _ := cfg.Services()
	if len(services) != len(resolve.DefaultServices) {
		t.Errorf("got %d services", len(services))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("expected an error for a missing explicit file")
	}
}

func TestLoadErrors(t *testing.T) {
	var table = []struct {
		name    string
		content string
	}{
		{"misspelled", "[bag]\nalgorithm = [\"md5\"]\n"},
		{"bad duration", "[fetch]\nread_timeout = \"soon\"\n"},
		{"no algorithms", "[bag]\nalgorithms = [\"crc32\"]\n"},
		{"resolver kind", "[[resolver]]\nscheme = \"x\"\nkind = \"oracle\"\n"},
		{"auth type", "[[keychain]]\nuri = \"x\"\nauth_type = \"carrier-pigeon\"\n"},
		{"negative", "[bag]\nworkers = -1\n"},
	}
	for _, tab := range table {
		fname := writeTemp(t, "config.toml", tab.content)
		if _, err := Load(fname); err == nil {
			t.Errorf("%s: expected an error", tab.name)
		}
	}
	fname := writeTemp(t, "config.toml", "[bag]\nalgorithm = [\"md5\"]\n")
	if _, err := Load(fname); errors.Cause(err) != ErrUnknownSetting {
		t.Errorf("got %v, expected ErrUnknownSetting", err)
	}
}
