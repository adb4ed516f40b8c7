package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/nyaruka/eventsink/core/models"
)

// prefixes are literal so any glob characters in them are escaped in KEYS patterns
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Redis is a ledger where each UUID is its own key with an expiration
type Redis struct {
	pool   *redis.Pool
	prefix string
	ttl    time.Duration
}

// NewRedis creates a new Redis ledger. Keys are namespaced by prefix which may be empty if the ledger
// has a database to itself.
func NewRedis(pool *redis.Pool, prefix string, ttl time.Duration) *Redis {
	return &Redis{pool: pool, prefix: prefix, ttl: ttl}
}

// Snapshot returns all the live UUIDs in the ledger
func (l *Redis) Snapshot(ctx context.Context) (Set, error) {
	rc, err := l.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rc.Close()

	keys, err := redis.Strings(redis.DoContext(rc, ctx, "KEYS", globEscaper.Replace(l.prefix)+"*"))
	if err != nil {
		return nil, fmt.Errorf("%w: error reading keys: %w", ErrUnavailable, err)
	}

	snapshot := make(Set, len(keys))
	for _, k := range keys {
		snapshot[models.EventUUID(strings.TrimPrefix(k, l.prefix))] = true
	}
	return snapshot, nil
}

// Mark records the passed in UUIDs, each key gets a fresh expiration
func (l *Redis) Mark(ctx context.Context, uuids []models.EventUUID) error {
	if len(uuids) == 0 {
		return nil
	}

	rc, err := l.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rc.Close()

	ttl := int64(l.ttl / time.Second)

	// we pipeline our writes, only the first error is interesting
	for _, uuid := range uuids {
		key := l.prefix + string(uuid)
		rc.Send("SET", key, string(uuid))
		rc.Send("EXPIRE", key, ttl)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("error marking %d events: %w", len(uuids), err)
	}

	var firstErr error
	for range uuids {
		for range 2 {
			if _, err := rc.Receive(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("error marking %d events: %w", len(uuids), firstErr)
	}
	return nil
}

// Check pings the Redis server
func (l *Redis) Check(ctx context.Context) error {
	rc, err := l.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rc.Close()

	if _, err := redis.DoContext(rc, ctx, "PING"); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// NewPool creates a new Redis pool from a URL like redis://:password@host:6379/15
func NewPool(redisURL string, maxActive int) (*redis.Pool, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse Redis URL '%s': %w", redisURL, err)
	}

	db := strings.TrimLeft(u.Path, "/")
	if db == "" {
		db = "0"
	}

	return &redis.Pool{
		Wait:        true,              // makes callers wait for a connection
		MaxActive:   maxActive,         // only open this many concurrent connections at once
		MaxIdle:     2,                 // only keep up to this many idle
		IdleTimeout: 240 * time.Second, // how long to wait before reaping a connection
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			conn, err := redis.DialContext(ctx, "tcp", u.Host, redis.DialConnectTimeout(5*time.Second))
			if err != nil {
				return nil, err
			}

			// send auth if required
			if u.User != nil {
				if pass, authRequired := u.User.Password(); authRequired {
					if _, err := conn.Do("AUTH", pass); err != nil {
						conn.Close()
						return nil, err
					}
				}
			}

			// switch to the right DB
			if _, err := conn.Do("SELECT", db); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}, nil
}
