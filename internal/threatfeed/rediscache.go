package threatfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// cachedLists is the JSON wire shape stored in Redis: net.IPNet doesn't
// round-trip through encoding/json on its own, so we store plain
// strings and reparse on load.
type cachedLists struct {
	AllowCIDRs []string `json:"allow_cidrs"`
	DenyCIDRs  []string `json:"deny_cidrs"`
}

// RedisCache wraps an upstream Source in a short Redis-backed cache so
// a fleet of processes sharing one Redis instance issues at most one
// upstream fetch per TTL window.
type RedisCache struct {
	upstream Source
	client   *redis.Client
	key      string
	ttl      time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	lastGood *AllowDenyLists
}

// NewRedisCache builds a cache in front of upstream, keyed by key in
// the given redis.Client, refreshing at most once per ttl.
func NewRedisCache(upstream Source, client *redis.Client, key string, ttl time.Duration, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		upstream: upstream,
		client:   client,
		key:      key,
		ttl:      ttl,
		log:      log.With().Str("component", "threatfeed_cache").Logger(),
	}
}

// Fetch returns the cached lists if a live Redis entry exists; otherwise
// it calls the upstream Source, stores the result with the configured
// TTL, and returns it. On any failure (Redis unreachable, upstream
// error, malformed cache entry) the last known-good lists are returned
// and the failure is logged at ERROR, per the "previous lists remain in
// effect" requirement.
func (c *RedisCache) Fetch(ctx context.Context) (*AllowDenyLists, error) {
	if raw, err := c.client.Get(ctx, c.key).Result(); err == nil {
		if lists, perr := c.decode(raw); perr == nil {
			c.remember(lists)
			return lists, nil
		} else {
			c.log.Error().Err(perr).Msg("cached threat feed entry malformed, refetching upstream")
		}
	} else if err != redis.Nil {
		c.log.Error().Err(err).Msg("redis unavailable for threat feed cache, refetching upstream")
	}

	lists, err := c.upstream.Fetch(ctx)
	if err != nil {
		c.mu.RLock()
		prev := c.lastGood
		c.mu.RUnlock()
		c.log.Error().Err(err).Msg("threat feed upstream fetch failed, keeping previous lists")
		if prev != nil {
			return prev, nil
		}
		return nil, fmt.Errorf("threat feed fetch: %w", err)
	}

	c.remember(lists)
	if encoded, eerr := c.encode(lists); eerr == nil {
		if serr := c.client.Set(ctx, c.key, encoded, c.ttl).Err(); serr != nil {
			c.log.Error().Err(serr).Msg("failed to write threat feed cache entry")
		}
	}
	return lists, nil
}

func (c *RedisCache) remember(lists *AllowDenyLists) {
	c.mu.Lock()
	c.lastGood = lists
	c.mu.Unlock()
}

func (c *RedisCache) encode(lists *AllowDenyLists) (string, error) {
	cached := cachedLists{
		AllowCIDRs: netsToStrings(lists.AllowCIDRs),
		DenyCIDRs:  netsToStrings(lists.DenyCIDRs),
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *RedisCache) decode(raw string) (*AllowDenyLists, error) {
	var cached cachedLists
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, err
	}
	allow, err := ParseCIDRs(cached.AllowCIDRs)
	if err != nil {
		return nil, err
	}
	deny, err := ParseCIDRs(cached.DenyCIDRs)
	if err != nil {
		return nil, err
	}
	return &AllowDenyLists{AllowCIDRs: allow, DenyCIDRs: deny}, nil
}

func netsToStrings(nets []*net.IPNet) []string {
	out := make([]string, len(nets))
	for i, n := range nets {
		out[i] = n.String()
	}
	return out
}
