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

package llm

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	cb.RecordFailure()
	if cb.Allow() {
		t.Error("breaker still allows after hitting the threshold")
	}
	if cb.State() != CircuitOpen {
		t.Errorf("state = %s, want open", cb.State())
	}
}

func TestCircuitBreakerHalfOpenProbeAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open immediately after the failure")
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != CircuitHalfOpen {
		t.Errorf("state = %s, want half_open after cooldown", cb.State())
	}
	if !cb.Allow() {
		t.Error("half-open breaker must permit a probe")
	}
}

func TestCircuitBreakerSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want closed after probe success", cb.State())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow")
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.Allow() {
		t.Error("breaker must stay open after a failed probe")
	}
}

func TestCircuitBreakerInterleavedSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if !cb.Allow() {
		t.Error("non-consecutive failures must not open the breaker")
	}
}
