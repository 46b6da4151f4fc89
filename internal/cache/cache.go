package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix 缓存键前缀
const keyPrefix = "sam2:masks:"

// Cache 自动 Mask 生成结果缓存. nil 值的 *Cache 为空操作
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New 创建缓存
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key 由图片内容与生成参数计算缓存键
func Key(image []byte, settings any) (string, error) {
	h := sha256.New()
	h.Write(image)
	params, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal cache settings: %w", err)
	}
	h.Write(params)
	return keyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Get 读取缓存并反序列化到 dst, 未命中返回 false
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set 写入缓存
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Ping 检查 redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
