package main

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/citadel-agent/routines/internal/config"
	"github.com/citadel-agent/routines/internal/observability"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sink := observability.NewRedisSink(redisClient, zerolog.New(os.Stdout).With().Timestamp().Logger())

	router := newRouter(sink)

	log.Println("routine status API listening on :8081")
	if err := router.Run(":8081"); err != nil {
		log.Fatal("routine status API stopped:", err)
	}
}

// newRouter wires the read-only execution/node status endpoints over
// the Observability Sink's Redis-backed records. It is a thin status
// API only: starting, cancelling or terminating an execution goes
// through internal/durable.Client directly (cmd/routinetrigger, or any
// operator tooling embedding it), not through HTTP here.
func newRouter(sink *observability.RedisSink) *gin.Engine {
	r := gin.Default()
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/executions/:executionId", func(c *gin.Context) {
		fields, err := sink.ExecutionStatus(c.Request.Context(), c.Param("executionId"))
		if err != nil && !errors.Is(err, redis.Nil) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(fields) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusOK, fields)
	})

	r.GET("/executions/:executionId/nodes/:nodeId", func(c *gin.Context) {
		contextKey := c.Query("contextKey")
		fields, err := sink.NodeStatus(c.Request.Context(), c.Param("executionId"), c.Param("nodeId"), contextKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(fields) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "node entry not found"})
			return
		}
		c.JSON(http.StatusOK, fields)
	})

	return r
}

// securityHeaders carries forward the baseline response headers the
// teacher's SecurityMiddleware sets on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}
