// Package keychain chooses the credentials to use for a remote URL.
//
// A Keychain is an ordered list of entries. Each entry names a fragment of a
// URI, an authentication type, and the parameters that type needs. To find
// the credentials for a URL, the entries are scanned in order and the first
// one whose URI fragment occurs in the URL (ignoring case), whose type is
// one the caller can use, and which has every parameter its type requires,
// is chosen. Entries that match but are missing parameters are skipped with
// a warning.
package keychain

import (
	"log"
	"strings"
)

// An AuthType identifies how a set of credentials is to be used.
type AuthType int

// The recognized authentication types.
const (
	AuthUnknown AuthType = iota
	HTTPBasic
	HTTPForm
	BearerToken
	Cookie
	FTPBasic
	AWSCredentials
	GCSCredentials
	GlobusTransfer
	IRODS
)

var authNames = []string{
	AuthUnknown:    "unknown",
	HTTPBasic:      "http-basic",
	HTTPForm:       "http-form",
	BearerToken:    "bearer-token",
	Cookie:         "cookie",
	FTPBasic:       "ftp-basic",
	AWSCredentials: "aws-credentials",
	GCSCredentials: "gcs-credentials",
	GlobusTransfer: "globus-transfer",
	IRODS:          "irods",
}

func (a AuthType) String() string {
	if a < 0 || int(a) >= len(authNames) {
		return authNames[AuthUnknown]
	}
	return authNames[a]
}

// ParseAuthType returns the AuthType having the given name. The comparison
// ignores case. AuthUnknown is returned for unrecognized names.
func ParseAuthType(s string) AuthType {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range authNames {
		if name == s {
			return AuthType(i)
		}
	}
	return AuthUnknown
}

// required lists the parameters each type must have. A list of
// alternatives means at least one of them must be present.
var required = map[AuthType][][]string{
	HTTPBasic:      {{"username"}, {"password"}},
	HTTPForm:       {{"auth_uri"}, {"username"}, {"password"}},
	BearerToken:    {{"token"}},
	Cookie:         {{"cookie"}},
	FTPBasic:       {{"username"}, {"password"}},
	AWSCredentials: {{"access_key", "profile", "role_arn", "anonymous"}},
	GCSCredentials: {{"credentials_file", "anonymous"}},
	GlobusTransfer: {{"transfer_token"}, {"local_endpoint"}},
	IRODS:          {{"username"}, {"password"}},
}

// An Entry is a single set of credentials.
type Entry struct {
	// URI is compared against the URL being fetched. The entry matches
	// when URI is found anywhere in the URL.
	URI      string
	AuthType AuthType
	Params   map[string]string
}

// Param returns the named parameter, or "" if it is not set.
func (e Entry) Param(name string) string {
	return e.Params[name]
}

// Complete returns true if the entry has every parameter its type
// requires. An access_key for aws-credentials also needs a secret_key.
func (e Entry) Complete() bool {
	groups, ok := required[e.AuthType]
	if !ok {
		return false
	}
	for _, alternatives := range groups {
		found := false
		for _, name := range alternatives {
			if e.Params[name] != "" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if e.AuthType == AWSCredentials && e.Params["access_key"] != "" && e.Params["secret_key"] == "" {
		return false
	}
	return true
}

// Matches returns true if the entry's URI fragment is in rawurl.
func (e Entry) Matches(rawurl string) bool {
	if e.URI == "" {
		return false
	}
	return strings.Contains(strings.ToLower(rawurl), strings.ToLower(e.URI))
}

// A Keychain is an ordered list of credential entries.
type Keychain []Entry

// Select returns the first complete entry matching rawurl whose type is one
// of types. If no types are given any type is accepted. The second return
// value is false if nothing was found.
func (k Keychain) Select(rawurl string, types ...AuthType) (Entry, bool) {
	for _, e := range k {
		if !e.Matches(rawurl) || !oneOf(e.AuthType, types) {
			continue
		}
		if !e.Complete() {
			log.Printf("keychain: skipping incomplete %s entry for %s", e.AuthType, e.URI)
			continue
		}
		return e, true
	}
	return Entry{}, false
}

func oneOf(a AuthType, types []AuthType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if a == t {
			return true
		}
	}
	return false
}
