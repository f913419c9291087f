package transport

// Every handler needs to keep some per-remote state: an HTTP client with its
// cookies, an FTP control connection, a cloud SDK client, an access token.
// Sessions is the cache holding it.

import (
	"io"
	"log"
	"sync"
	"time"
)

// a session stored in the cache
type session struct {
	expire time.Time
	value  io.Closer
}

// Sessions caches one session per key, where a key names a handler and
// the authority it talks to, e.g. "s3:bucket" or "http:example.com". Each
// Registry owns its own Sessions.
type Sessions struct {
	m     sync.Mutex         // protects everything below
	cache map[string]session // live sessions
	ttl   time.Duration      // how long a session may be reused
	now   func() time.Time
}

// defaultSessionTTL bounds the life of tokens and connections held in the
// cache.
const defaultSessionTTL = time.Hour

// NewSessions returns an empty session cache.
func NewSessions() *Sessions {
	return &Sessions{
		cache: make(map[string]session),
		ttl:   defaultSessionTTL,
		now:   time.Now,
	}
}

// Get returns the session for key. If there is none, or it has expired, it
// calls fill to make a new one. The lock is not held while fill runs, since
// fill usually talks to the network; if two goroutines fill the same key at
// once the later result is closed and the earlier one is kept.
func (s *Sessions) Get(key string, fill func() (io.Closer, error)) (io.Closer, error) {
	s.m.Lock()
	entry, ok := s.cache[key]
	if ok && s.now().After(entry.expire) {
		delete(s.cache, key)
		go closeSession(key, entry.value)
		ok = false
	}
	s.m.Unlock()
	if ok {
		return entry.value, nil
	}

	value, err := fill()
	if err != nil {
		return nil, err
	}

	s.m.Lock()
	defer s.m.Unlock()
	if existing, ok := s.cache[key]; ok {
		go closeSession(key, value)
		return existing.value, nil
	}
	s.cache[key] = session{expire: s.now().Add(s.ttl), value: value}
	return value, nil
}

// Drop closes and forgets the session for key, so the next Get makes a
// new one. It is used when a server rejects a session's credentials.
func (s *Sessions) Drop(key string) {
	s.m.Lock()
	entry, ok := s.cache[key]
	delete(s.cache, key)
	s.m.Unlock()
	if ok {
		closeSession(key, entry.value)
	}
}

// Len returns the number of cached sessions.
func (s *Sessions) Len() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.cache)
}

// Close closes every cached session and empties the cache. The cache may
// be used again afterwards.
func (s *Sessions) Close() error {
	s.m.Lock()
	old := s.cache
	s.cache = make(map[string]session)
	s.m.Unlock()
	var first error
	for key, entry := range old {
		if err := entry.value.Close(); err != nil {
			log.Printf("transport: closing session %s: %s", key, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func closeSession(key string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("transport: closing session %s: %s", key, err)
	}
}
