// Package config reads the Redis connection settings shared by the queue,
// the checkpoint backend and the event relay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection and queue parameters.
type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	Workers         int
	TaskTimeout     time.Duration
	RetentionPeriod time.Duration
	QueuePriorities map[string]int
}

const (
	defaultHost        = "localhost"
	defaultPort        = 6379
	defaultDB          = 0
	defaultWorkers     = 2
	defaultTaskTimeout = 3 * time.Hour
	minPort            = 1
	maxPort            = 65535
	minDB              = 0
	maxDB              = 15
	minWorkers         = 1
	maxWorkers         = 100
	minRetentionDays   = 1
	maxRetentionDays   = 365
)

// DefaultQueuePriorities defines the default priority settings for task queues
var DefaultQueuePriorities = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

// NewRedisConfig creates a configuration from REDIS_URL or, when it is not
// set, from the individual REDIS_* variables.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:            getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:            defaultPort,
		Password:        os.Getenv("REDIS_PASSWORD"),
		QueuePriorities: make(map[string]int, len(DefaultQueuePriorities)),
	}

	for queue, priority := range DefaultQueuePriorities {
		cfg.QueuePriorities[queue] = priority
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if err := cfg.applyURL(redisURL); err != nil {
			return nil, err
		}
	} else {
		port, err := validatePort(getEnvOrDefault("REDIS_PORT", strconv.Itoa(defaultPort)))
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}

		cfg.Port = port

		db, err := validateDB(getEnvOrDefault("REDIS_DB", strconv.Itoa(defaultDB)))
		if err != nil {
			return nil, fmt.Errorf("invalid DB: %w", err)
		}

		cfg.DB = db
	}

	workers, err := validateWorkers(getEnvOrDefault("REDIS_WORKERS", strconv.Itoa(defaultWorkers)))
	if err != nil {
		return nil, fmt.Errorf("invalid workers: %w", err)
	}

	cfg.Workers = workers

	timeout, err := time.ParseDuration(getEnvOrDefault("REDIS_TASK_TIMEOUT", defaultTaskTimeout.String()))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid task timeout %q", os.Getenv("REDIS_TASK_TIMEOUT"))
	}

	cfg.TaskTimeout = timeout

	days, err := validateRetentionDays(getEnvOrDefault("REDIS_RETENTION_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid retention days: %w", err)
	}

	cfg.RetentionPeriod = time.Duration(days) * 24 * time.Hour

	return cfg, nil
}

func (c *RedisConfig) applyURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	if host := parsedURL.Hostname(); host != "" {
		c.Host = host
	}

	if port := parsedURL.Port(); port != "" {
		p, err := validatePort(port)
		if err != nil {
			return fmt.Errorf("invalid port in Redis URL: %w", err)
		}

		c.Port = p
	}

	if password, ok := parsedURL.User.Password(); ok {
		c.Password = password
	}

	if path := strings.TrimPrefix(parsedURL.Path, "/"); path != "" {
		db, err := validateDB(path)
		if err != nil {
			return fmt.Errorf("invalid database number in Redis URL: %w", err)
		}

		c.DB = db
	}

	return nil
}

// GetRedisAddr returns the formatted Redis address
func (c *RedisConfig) GetRedisAddr() string {
	host := c.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}

	return fmt.Sprintf("%s:%d", host, c.Port)
}

// AsynqOpt returns the connection options of the task queue.
func (c *RedisConfig) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         c.GetRedisAddr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	}
}

// NewUniversalClient opens a go-redis client for pub/sub and key storage.
func (c *RedisConfig) NewUniversalClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{c.GetRedisAddr()},
		Password: c.Password,
		DB:       c.DB,
	})
}

func validatePort(port string) (int, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("port must be a number: %w", err)
	}

	if p < minPort || p > maxPort {
		return 0, fmt.Errorf("port must be between %d and %d", minPort, maxPort)
	}

	return p, nil
}

func validateDB(db string) (int, error) {
	d, err := strconv.Atoi(db)
	if err != nil {
		return 0, fmt.Errorf("DB must be a number: %w", err)
	}

	if d < minDB || d > maxDB {
		return 0, fmt.Errorf("DB must be between %d and %d", minDB, maxDB)
	}

	return d, nil
}

func validateWorkers(workers string) (int, error) {
	w, err := strconv.Atoi(workers)
	if err != nil {
		return 0, fmt.Errorf("workers must be a number: %w", err)
	}

	if w < minWorkers || w > maxWorkers {
		return 0, fmt.Errorf("workers must be between %d and %d", minWorkers, maxWorkers)
	}

	return w, nil
}

func validateRetentionDays(days string) (int, error) {
	d, err := strconv.Atoi(days)
	if err != nil {
		return 0, fmt.Errorf("retention days must be a number: %w", err)
	}

	if d < minRetentionDays || d > maxRetentionDays {
		return 0, fmt.Errorf("retention days must be between %d and %d", minRetentionDays, maxRetentionDays)
	}

	return d, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}
