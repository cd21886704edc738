// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package sourcecache

import (
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// redisKeyPrefix matches the keys written by
// github.com/gregjones/httpcache/redis, so existing entries stay readable.
const redisKeyPrefix = "rediscache:"

// redisCache stores entries in Redis.  Each operation borrows a connection
// from the pool, so a redisCache is safe for concurrent use.
type redisCache struct {
	pool   *redis.Pool
	logger *zap.Logger
}

func newRedis(url string, logger *zap.Logger) *redisCache {
	return &redisCache{
		pool: &redis.Pool{
			MaxIdle:     10,
			IdleTimeout: 4 * time.Minute,
			Dial: func() (redis.Conn, error) {
				return redis.DialURL(url, redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
			},
		},
		logger: logger,
	}
}

func (c *redisCache) Get(key string) ([]byte, bool) {
	conn := c.pool.Get()
	defer conn.Close()

	item, err := redis.Bytes(conn.Do("GET", redisKeyPrefix+key))
	if err != nil {
		if err != redis.ErrNil {
			c.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return item, true
}

func (c *redisCache) Set(key string, data []byte) {
	conn := c.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", redisKeyPrefix+key, data); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisCache) Delete(key string) {
	conn := c.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("DEL", redisKeyPrefix+key); err != nil {
		c.logger.Warn("redis delete failed", zap.String("key", key), zap.Error(err))
	}
}
