package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLimitExceeded is returned when a daily or hourly quota is used up.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter paces bot activity between entities
type RateLimiter struct {
	logger *logrus.Logger
	config Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	lastActionTime map[ActionType]time.Time
	recent         map[ActionType][]time.Time
	dailyCounts    map[ActionType]int
	dailyResetTime time.Time
}

// Config defines rate limiting behavior
type Config struct {
	MinDelay time.Duration `yaml:"min_delay"` // Minimum delay between any two actions

	EntityDelay time.Duration `yaml:"entity_delay"` // Delay between two entity runs
	LoginDelay  time.Duration `yaml:"login_delay"`  // Delay between two logins

	DailyEntities  int `yaml:"daily_entities"`
	HourlyEntities int `yaml:"hourly_entities"`

	RandomizeDelay bool    `yaml:"randomize_delay"`
	JitterPercent  float64 `yaml:"jitter_percent"`
}

// ActionType represents the paced bot actions
type ActionType string

const (
	ActionEntity ActionType = "entity"
	ActionLogin  ActionType = "login"
)

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config Config, logger *logrus.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger:         logger,
		config:         config,
		now:            time.Now,
		sleep:          sleepContext,
		lastActionTime: make(map[ActionType]time.Time),
		recent:         make(map[ActionType][]time.Time),
		dailyCounts:    make(map[ActionType]int),
	}
	rl.dailyResetTime = nextMidnight(rl.now())
	return rl
}

// WaitForPermission waits until the action can be performed
func (rl *RateLimiter) WaitForPermission(ctx context.Context, action ActionType) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.resetExpired(action, now)

	if err := rl.checkLimits(action); err != nil {
		return err
	}

	delay := rl.calculateDelay(action, now)
	if rl.config.RandomizeDelay {
		delay = rl.addJitter(delay)
	}

	if delay > 0 {
		rl.logger.WithFields(logrus.Fields{
			"action": string(action),
			"delay":  delay,
		}).Info("Rate limiting - waiting")

		if err := rl.sleep(ctx, delay); err != nil {
			return err
		}
	}

	rl.updateTracking(action, rl.now())
	return nil
}

// Pace is WaitForPermission bound to ActionEntity, for use between entity runs
func (rl *RateLimiter) Pace(ctx context.Context) error {
	return rl.WaitForPermission(ctx, ActionEntity)
}

func (rl *RateLimiter) resetExpired(action ActionType, now time.Time) {
	if !now.Before(rl.dailyResetTime) {
		rl.dailyCounts = make(map[ActionType]int)
		rl.dailyResetTime = nextMidnight(now)
		rl.logger.Info("Daily rate limits reset")
	}

	cutoff := now.Add(-time.Hour)
	kept := rl.recent[action][:0]
	for _, at := range rl.recent[action] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	rl.recent[action] = kept
}

// checkLimits ensures we don't exceed daily and hourly quotas
func (rl *RateLimiter) checkLimits(action ActionType) error {
	if action != ActionEntity {
		return nil
	}

	if limit := rl.config.DailyEntities; limit > 0 && rl.dailyCounts[action] >= limit {
		return fmt.Errorf("%w: daily %s limit %d/%d", ErrLimitExceeded, action, rl.dailyCounts[action], limit)
	}
	if limit := rl.config.HourlyEntities; limit > 0 && len(rl.recent[action]) >= limit {
		return fmt.Errorf("%w: hourly %s limit %d/%d", ErrLimitExceeded, action, len(rl.recent[action]), limit)
	}
	return nil
}

// calculateDelay determines how long to wait before the next action
func (rl *RateLimiter) calculateDelay(action ActionType, now time.Time) time.Duration {
	lastAction := rl.lastActionTime[action]
	if lastAction.IsZero() {
		return 0 // First action, no delay
	}

	var requiredDelay time.Duration
	switch action {
	case ActionEntity:
		requiredDelay = rl.config.EntityDelay
	case ActionLogin:
		requiredDelay = rl.config.LoginDelay
	}
	if rl.config.MinDelay > requiredDelay {
		requiredDelay = rl.config.MinDelay
	}

	elapsed := now.Sub(lastAction)
	if elapsed >= requiredDelay {
		return 0
	}
	return requiredDelay - elapsed
}

// addJitter adds +/- JitterPercent randomness to a delay
func (rl *RateLimiter) addJitter(delay time.Duration) time.Duration {
	if rl.config.JitterPercent <= 0 || delay <= 0 {
		return delay
	}

	jitter := float64(delay) * rl.config.JitterPercent / 100.0
	newDelay := float64(delay) + (rand.Float64()*2-1)*jitter
	if newDelay < 0 {
		newDelay = 0
	}
	return time.Duration(newDelay)
}

func (rl *RateLimiter) updateTracking(action ActionType, now time.Time) {
	rl.lastActionTime[action] = now
	rl.recent[action] = append(rl.recent[action], now)
	rl.dailyCounts[action]++
}

// GetStats returns current rate limiting statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := make(map[string]interface{})
	stats["daily_entities"] = rl.dailyCounts[ActionEntity]
	stats["hourly_entities"] = len(rl.recent[ActionEntity])
	for action, lastTime := range rl.lastActionTime {
		stats["last_"+string(action)] = lastTime.Format(time.RFC3339)
	}
	stats["next_daily_reset"] = rl.dailyResetTime.Format(time.RFC3339)

	return stats
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MinDelay:       2 * time.Second,
		EntityDelay:    30 * time.Second,
		LoginDelay:     10 * time.Second,
		DailyEntities:  200,
		HourlyEntities: 40,
		RandomizeDelay: true,
		JitterPercent:  20.0,
	}
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
