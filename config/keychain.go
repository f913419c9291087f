package config

import (
	"io"
	"log"
	"os"
	"strconv"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// LoadKeychain reads a JSON keychain file. See ParseKeychain.
func LoadKeychain(fname string) (keychain.Keychain, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "keychain")
	}
	defer f.Close()
	k, err := ParseKeychain(f)
	return k, errors.Wrapf(err, "keychain %s", fname)
}

// ParseKeychain reads a JSON keychain. It is an array of entries in the form
//
//	{"uri": "https://data.example.org/", "auth_type": "http-basic",
//	 "auth_params": {"username": "...", "password": "..."}}
//
// Numbers and booleans in auth_params are kept in their text form. Entries
// with an unknown auth type are skipped with a warning.
func ParseKeychain(r io.Reader) (keychain.Keychain, error) {
	v, err := jason.NewValueFromReader(r)
	if err != nil {
		return nil, err
	}
	objects, err := v.ObjectArray()
	if err != nil {
		return nil, err
	}
	var result keychain.Keychain
	for _, obj := range objects {
		uri, _ := obj.GetString("uri")
		name, _ := obj.GetString("auth_type")
		auth := keychain.ParseAuthType(name)
		if auth == keychain.AuthUnknown {
			log.Printf("keychain: %s: skipping unknown auth type %q", uri, name)
			continue
		}
		e := keychain.Entry{URI: uri, AuthType: auth, Params: make(map[string]string)}
		params, err := obj.GetObject("auth_params")
		if err == nil {
			for key, value := range params.Map() {
				if s, ok := paramString(value); ok {
					e.Params[key] = s
				}
			}
		}
		result = append(result, e)
	}
	return result, nil
}

func paramString(v *jason.Value) (string, bool) {
	if s, err := v.String(); err == nil {
		return s, true
	}
	if n, err := v.Int64(); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	if b, err := v.Boolean(); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}
