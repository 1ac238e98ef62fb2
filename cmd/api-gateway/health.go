package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const readyCheckTimeout = 3 * time.Second

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// dependencyCheck 依赖探测
type dependencyCheck struct {
	name  string
	probe func(ctx context.Context) error
}

// healthHandler 健康检查（进程存活）
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
	})
}

// pingHandler Ping 检查
func pingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// readyHandler 就绪检查：数据库和 Redis 均可用才返回 200
func readyHandler(db *gorm.DB, redisClient *redis.Client) gin.HandlerFunc {
	checks := []dependencyCheck{
		{name: "database", probe: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{name: "redis", probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	}
	return readiness(checks)
}

func readiness(checks []dependencyCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyCheckTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:    "ready",
			Timestamp: time.Now().Unix(),
			Checks:    make(map[string]string, len(checks)),
		}
		status := http.StatusOK
		for _, check := range checks {
			if err := check.probe(ctx); err != nil {
				resp.Checks[check.name] = "error: " + err.Error()
				resp.Status = "not ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[check.name] = "ok"
		}

		c.JSON(status, resp)
	}
}
