package database

import (
	"context"
	"fmt"
	"time"

	"tutoring-booking/pkg/utils"

	"github.com/go-redis/redis/v8"
)

// InitRedis connects the cache client used to mirror pending references.
func InitRedis(config utils.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.CacheDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", config.Addr, err)
	}

	return client, nil
}
