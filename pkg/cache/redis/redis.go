// Package redis is the shared L2 layer of the reconciliation cache, backed by
// rueidis. Standalone, cluster and sentinel deployments are supported.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-recon/pkg/cache"

	"github.com/redis/rueidis"
)

// Config selects the deployment from whichever address list is set:
// ClusterAddrs, then SentinelAddrs, then Addr.
type Config struct {
	Name          string
	Addr          string
	ClusterAddrs  []string
	SentinelAddrs []string
	// SentinelMaster is the master set name monitored by the sentinels.
	SentinelMaster string
	Username       string
	Password       string
	// DB is ignored in cluster mode.
	DB int
	// KeyPrefix namespaces every key so several deployments can share a server.
	KeyPrefix  string
	DefaultTTL time.Duration
	// DialTimeout bounds the startup ping.
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ScanCount is the COUNT hint used by prefix eviction.
	ScanCount int64
}

// Mode names the deployment the config describes.
func (c Config) Mode() string {
	switch {
	case len(c.ClusterAddrs) > 0:
		return "cluster"
	case len(c.SentinelAddrs) > 0:
		return "sentinel"
	case c.Addr != "":
		return "standalone"
	default:
		return ""
	}
}

func (c Config) option() (rueidis.ClientOption, error) {
	opt := rueidis.ClientOption{
		Username:         c.Username,
		Password:         c.Password,
		ConnWriteTimeout: c.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}
	switch c.Mode() {
	case "cluster":
		opt.InitAddress = c.ClusterAddrs
	case "sentinel":
		if c.SentinelMaster == "" {
			return opt, errors.New("redis: sentinel mode needs a master set name")
		}
		opt.InitAddress = c.SentinelAddrs
		opt.SelectDB = c.DB
		opt.Sentinel = rueidis.SentinelOption{MasterSet: c.SentinelMaster}
	case "standalone":
		opt.InitAddress = []string{c.Addr}
		opt.SelectDB = c.DB
	default:
		return opt, errors.New("redis: no address configured")
	}
	return opt, nil
}

// RedisCache stores raw bytes under KeyPrefix+key.
type RedisCache struct {
	client rueidis.Client
	config Config
}

var _ cache.CacheLayer = (*RedisCache)(nil)

// New connects and pings the server before returning.
func New(config Config) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "L2-Redis"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 3 * time.Second
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 500
	}

	opt, err := config.option()
	if err != nil {
		return nil, err
	}
	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("redis: connect %s: %w", config.Mode(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisCache{client: client, config: config}, nil
}

func (r *RedisCache) Name() string {
	return r.config.Name
}

func (r *RedisCache) key(k string) string {
	return r.config.KeyPrefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(key)).Build()).AsBytes()
	if rueidis.IsRedisNil(err) {
		return nil, cache.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}
	cmd := r.client.B().Set().Key(r.key(key)).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(r.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePrefix scans every node for the prefix and deletes the matches. Each
// key gets its own DEL so a pipeline never spans cluster slots.
func (r *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, cache.ErrInvalidKey
	}

	pattern := escapeGlob(r.key(prefix)) + "*"
	removed := 0
	for addr, node := range r.client.Nodes() {
		n, err := r.deleteMatching(ctx, node, pattern)
		removed += n
		if err != nil {
			return removed, fmt.Errorf("redis delete prefix on %s: %w", addr, err)
		}
	}
	return removed, nil
}

func (r *RedisCache) deleteMatching(ctx context.Context, node rueidis.Client, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		scan := node.B().Scan().Cursor(cursor).Match(pattern).Count(r.config.ScanCount).Build()
		entry, err := node.Do(ctx, scan).AsScanEntry()
		if err != nil {
			return removed, err
		}

		dels := make(rueidis.Commands, 0, len(entry.Elements))
		for _, k := range entry.Elements {
			dels = append(dels, r.client.B().Del().Key(k).Build())
		}
		for _, resp := range r.client.DoMulti(ctx, dels...) {
			n, err := resp.AsInt64()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}

		if cursor = entry.Cursor; cursor == 0 {
			return removed, nil
		}
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`*?[]\`, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

// TTL reports the remaining lifetime of key; -1 means no expiry.
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	seconds, err := r.client.Do(ctx, r.client.B().Ttl().Key(r.key(key)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	switch seconds {
	case -2:
		return 0, cache.ErrKeyNotFound
	case -1:
		return -1, nil
	}
	return time.Duration(seconds) * time.Second, nil
}
