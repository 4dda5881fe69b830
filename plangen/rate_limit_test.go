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
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisLimiter(t *testing.T, limit int) (*RedisConcurrencyLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisConcurrencyLimiter(client, limit), mr
}

func TestRedisLimiterEnforcesBound(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, 2)
	ctx := context.Background()

	rel1, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	rel2, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if _, err := limiter.Acquire(ctx, 7); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("third acquire: err = %v, want ErrConcurrencyLimit", err)
	}

	// Another user is unaffected
	relOther, err := limiter.Acquire(ctx, 9)
	if err != nil {
		t.Fatalf("other user acquire: %v", err)
	}
	relOther()

	rel1()
	if _, err := limiter.Acquire(ctx, 7); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	rel2()
}

func TestRedisLimiterDeniedAcquireLeavesNoSlot(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 1)
	ctx := context.Background()

	rel, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := limiter.Acquire(ctx, 7); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("err = %v, want ErrConcurrencyLimit", err)
	}

	// The failed attempt decremented its own increment
	if got, err := mr.Get(slotKey(7)); err != nil || got != "1" {
		t.Errorf("slot count = %q (%v), want 1", got, err)
	}
	rel()
}

func TestRedisLimiterReleaseIsIdempotent(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 2)
	ctx := context.Background()

	rel, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	rel()
	rel()
	rel()

	if got, _ := mr.Get(slotKey(7)); got != "0" {
		t.Errorf("slot count after repeated release = %q, want 0", got)
	}
}

func TestRedisLimiterSlotsCarryTTL(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 2)

	rel, err := limiter.Acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer rel()

	if mr.TTL(slotKey(7)) <= 0 {
		t.Error("slot key must expire so a crashed process cannot pin a user")
	}
}

func TestRedisLimiterFallsBackWhenRedisDown(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 1)
	mr.Close()

	ctx := context.Background()
	rel, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("acquire with redis down: %v", err)
	}

	// The in-memory fallback still enforces the bound
	if _, err := limiter.Acquire(ctx, 7); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("err = %v, want ErrConcurrencyLimit from fallback", err)
	}
	rel()

	if _, err := limiter.Acquire(ctx, 7); err != nil {
		t.Fatalf("acquire after fallback release: %v", err)
	}
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemoryConcurrencyLimiter(1)
	ctx := context.Background()

	rel, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := limiter.Acquire(ctx, 7); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("err = %v, want ErrConcurrencyLimit", err)
	}

	rel()
	rel()
	if _, err := limiter.Acquire(ctx, 7); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
