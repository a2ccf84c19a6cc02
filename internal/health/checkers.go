package health

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DatabaseChecker pings the backing SQL database through gorm.
type DatabaseChecker struct {
	DB *gorm.DB
}

func (c DatabaseChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: "database"}
	sqlDB, err := c.DB.DB()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Healthy = true
	return result
}

// RedisChecker pings the rate-limit backend.
type RedisChecker struct {
	Client redis.UniversalClient
}

func (c RedisChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: "redis"}
	if err := c.Client.Ping(ctx).Err(); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Healthy = true
	return result
}
