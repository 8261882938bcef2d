// Package cache 短TTL字节缓存
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache 基于LRU的进程内缓存，支持逐条TTL
//
// The cache is a disposable accelerator: entries may vanish at any time
// (eviction, restart) and callers must behave correctly against an
// always-empty cache. Any internal problem degrades to a miss, never an
// error.
type Cache struct {
	lru *lru.Cache[string, entry]
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

const defaultSize = 4096

// New 创建缓存；size<=0时使用默认容量
func New(size int) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		// only reachable with a non-positive size, which is clamped above
		l, _ = lru.New[string, entry](defaultSize)
	}
	return &Cache{lru: l}
}

// Get 返回未过期的缓存值；过期条目被惰性清除并按miss处理
func (c *Cache) Get(key string) ([]byte, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.data, true
}

// Set 写入缓存；ttl<=0时不写入
func (c *Cache) Set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.lru.Add(key, entry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete 删除指定键
func (c *Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Len 当前条目数
func (c *Cache) Len() int {
	return c.lru.Len()
}
