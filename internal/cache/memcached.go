package cache

import (
	"errors"
	"fmt"
	"log/slog"
	netUrl "net/url"
	"os"
	"sync"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal"
	"github.com/bradfitz/gomemcache/memcache"
)

// CachedClient tracks the per-domain render threshold that the upstream scheduler
// increments before dispatching a url. Rendered pages are never cached.
type CachedClient interface {
	DecrementThreshold(string)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	mu     sync.Mutex
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) DecrementThreshold(url string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	slog.Debug("decrementing the threshold.")
	key := DomainKey(url)
	_, err := mc.client.Decrement(key, 1)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			slog.Debug("cache expired.", slog.String("key", key))
		} else {
			slog.Warn("failed to decrement the threshold.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
	}
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

// DomainKey is the threshold key for the host of url, or for the whole url if it can't be parsed.
func DomainKey(url string) string {
	u, err := netUrl.Parse(url)
	if err != nil || u.Host == "" {
		slog.Debug("failed to parse url host. use full url as a key.", slog.String("url", url))
		return fmt.Sprintf("%s-1m-render", internal.HashURL(url))
	}
	return fmt.Sprintf("%s-1m-render", internal.HashURL(u.Host))
}
