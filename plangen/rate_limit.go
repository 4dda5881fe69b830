// Copyright 2025 CoachCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plangen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"coachcore/platform/shared/logger"
)

// ErrConcurrencyLimit is returned when a requester already holds the
// maximum number of in-flight generation slots.
var ErrConcurrencyLimit = fmt.Errorf("concurrent generation limit reached")

// ConcurrencyLimiter bounds in-flight generations per requester. Acquire
// returns a release function that must run on every exit path.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context, userID int) (func(), error)
}

// slotTTL caps how long an orphaned slot can block a user if a process
// dies between acquire and release.
const slotTTL = 5 * time.Minute

// RedisConcurrencyLimiter holds slots in Redis so the bound applies
// across service instances. When Redis is unreachable it falls back to
// per-instance in-memory slots rather than blocking generations.
type RedisConcurrencyLimiter struct {
	client   *redis.Client
	limit    int
	log      *logger.Logger
	fallback *memoryLimiter
}

// NewRedisConcurrencyLimiter creates a limiter allowing limit concurrent
// generations per user.
func NewRedisConcurrencyLimiter(client *redis.Client, limit int) *RedisConcurrencyLimiter {
	if limit <= 0 {
		limit = 2
	}
	return &RedisConcurrencyLimiter{
		client:   client,
		limit:    limit,
		log:      logger.New("concurrency-limiter"),
		fallback: newMemoryLimiter(limit),
	}
}

func slotKey(userID int) string {
	return fmt.Sprintf("plangen:slots:%d", userID)
}

// Acquire takes one slot for the user or returns ErrConcurrencyLimit.
func (l *RedisConcurrencyLimiter) Acquire(ctx context.Context, userID int) (func(), error) {
	if l.client == nil {
		return l.fallback.Acquire(ctx, userID)
	}

	key := slotKey(userID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// Redis being down must not take plan generation with it; the
		// in-memory bound still protects each instance
		l.log.Warn("", "", "redis unavailable, using in-memory concurrency slots", map[string]interface{}{
			"error": err.Error(),
		})
		return l.fallback.Acquire(ctx, userID)
	}
	l.client.Expire(ctx, key, slotTTL)

	if count > int64(l.limit) {
		l.client.Decr(ctx, key)
		return nil, ErrConcurrencyLimit
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must not inherit a canceled request context
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.client.Decr(relCtx, key).Err(); err != nil {
				l.log.Warn("", "", "failed to release concurrency slot", map[string]interface{}{
					"error": err.Error(),
					"user":  userID,
				})
			}
		})
	}
	return release, nil
}

// memoryLimiter is the per-instance fallback.
type memoryLimiter struct {
	mu    sync.Mutex
	slots map[int]int
	limit int
}

func newMemoryLimiter(limit int) *memoryLimiter {
	return &memoryLimiter{slots: make(map[int]int), limit: limit}
}

func (m *memoryLimiter) Acquire(_ context.Context, userID int) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slots[userID] >= m.limit {
		return nil, ErrConcurrencyLimit
	}
	m.slots[userID]++

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.slots[userID] > 0 {
				m.slots[userID]--
			}
			if m.slots[userID] == 0 {
				delete(m.slots, userID)
			}
		})
	}
	return release, nil
}

// NewMemoryConcurrencyLimiter returns a purely in-memory limiter, used
// when no Redis endpoint is configured.
func NewMemoryConcurrencyLimiter(limit int) ConcurrencyLimiter {
	if limit <= 0 {
		limit = 2
	}
	return newMemoryLimiter(limit)
}
