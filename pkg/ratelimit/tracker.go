package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	etlCooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_cooldowns_total",
		Help: "Total number of cooldowns recorded by host",
	}, []string{"host"})

	etlCooldownWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_cooldown_wait_seconds",
		Help:    "Time spent waiting for a host cooldown before a request",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"host"})
)

// Tracker records and enforces per-host cooldowns in Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func redisKey(host string) string {
	return RedisKeyPrefix + strings.ToLower(host)
}

// GetState returns the cooldown recorded for host, or nil if there is none.
func (t *Tracker) GetState(ctx context.Context, host string) (*CooldownState, error) {
	data, err := t.redis.Get(ctx, redisKey(host)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cooldown for %s: %w", host, err)
	}

	var state CooldownState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse cooldown for %s: %w", host, err)
	}
	return &state, nil
}

// Record starts, or extends, a cooldown of d for host. A shorter cooldown
// never shortens one already recorded.
func (t *Tracker) Record(ctx context.Context, host string, d time.Duration, statusCode int) error {
	if d <= 0 {
		return nil
	}
	if d > MaxCooldown {
		d = MaxCooldown
	}

	current, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}

	now := time.Now()
	until := now.Add(d)
	if current.IsActive() && current.Until.After(until) {
		return nil
	}

	state := CooldownState{
		Host:       host,
		Until:      until,
		StatusCode: statusCode,
		LastUpdate: now,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cooldown: %w", err)
	}

	if err := t.redis.Set(ctx, redisKey(host), data, d).Err(); err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	etlCooldownsTotal.WithLabelValues(host).Inc()
	t.logger.Warn().
		Str("host", host).
		Int("status", statusCode).
		Dur("cooldown", d).
		Msg("Host cooldown recorded")

	return nil
}

// Wait blocks until host has no active cooldown or ctx is done.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return fmt.Errorf("get cooldown state: %w", err)
	}
	if !state.IsActive() {
		return nil
	}

	wait := state.TimeUntilReset()
	t.logger.Debug().
		Str("host", host).
		Dur("wait_duration", wait).
		Msg("Waiting for host cooldown")

	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	etlCooldownWaitSeconds.WithLabelValues(host).Observe(time.Since(start).Seconds())
	return nil
}

// Clear removes any cooldown recorded for host.
func (t *Tracker) Clear(ctx context.Context, host string) error {
	if err := t.redis.Del(ctx, redisKey(host)).Err(); err != nil {
		return fmt.Errorf("clear cooldown for %s: %w", host, err)
	}
	return nil
}
