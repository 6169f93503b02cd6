// Package utils 缓存工具
package utils

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// NewCache 创建缓存实例，清理间隔为默认过期时间的两倍
func NewCache(defaultTTL time.Duration) *cache.Cache {
	return cache.New(defaultTTL, 2*defaultTTL)
}

// CacheGetOrSet 获取或设置缓存，ttlFn 可以按结果决定缓存时长，返回 0 表示不缓存
func CacheGetOrSet(c *cache.Cache, key string, ttlFn func(interface{}) time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if val, found := c.Get(key); found {
		return val, nil
	}

	val, err := fn()
	if err != nil {
		return nil, err
	}

	if ttl := ttlFn(val); ttl > 0 {
		c.Set(key, val, ttl)
	}
	return val, nil
}
