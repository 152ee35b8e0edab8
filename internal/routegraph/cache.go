package routegraph

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
)

// 缓存有效期：路径图会随路况数据更新，不宜缓存太久
const cacheTTL = 5 * time.Minute

// 进程内缓存的容量上限
const memoryCacheLimit = 1000

// Cache 路径图缓存
// 配置了 Redis 时使用 Redis，否则退回进程内缓存
type Cache interface {
	Get(ctx context.Context, key string) (*models.RouteGraph, bool)
	Set(ctx context.Context, key string, graph *models.RouteGraph)
}

// MemoryCache 进程内缓存
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	graph    *models.RouteGraph
	storedAt time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
	}
}

// Get 读取缓存
func (c *MemoryCache) Get(_ context.Context, key string) (*models.RouteGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storedAt) > cacheTTL {
		return nil, false
	}
	return entry.graph, true
}

// Set 写入缓存
func (c *MemoryCache) Set(_ context.Context, key string, graph *models.RouteGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 限制缓存大小
	if len(c.entries) >= memoryCacheLimit {
		c.entries = make(map[string]memoryEntry)
	}
	c.entries[key] = memoryEntry{graph: graph, storedAt: time.Now()}
}

// RedisCache Redis 缓存
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(redisURL string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string) (*models.RouteGraph, bool) {
	data, err := c.client.Get(ctx, "routegraph:"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var graph models.RouteGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		c.logger.Warn("Failed to unmarshal cached route graph", zap.Error(err))
		return nil, false
	}
	return &graph, true
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, graph *models.RouteGraph) {
	data, err := json.Marshal(graph)
	if err != nil {
		c.logger.Warn("Failed to marshal route graph for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, "routegraph:"+key, data, cacheTTL).Err(); err != nil {
		c.logger.Warn("Redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
