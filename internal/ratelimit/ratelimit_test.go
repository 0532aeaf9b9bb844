package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenDeny(t *testing.T) {
	l := NewLimiter(1, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("Request %d within burst should be allowed", i)
		}
	}

	if l.Allow() {
		t.Error("Request beyond burst should be denied")
	}
}

func TestTokensRefill(t *testing.T) {
	l := NewLimiter(100, 1)

	if !l.Allow() {
		t.Fatal("First request should be allowed")
	}
	if l.Allow() {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !l.Allow() {
		t.Error("Bucket should have refilled")
	}
}

func TestTokensCapAtBurst(t *testing.T) {
	l := NewLimiter(1000, 2)

	time.Sleep(20 * time.Millisecond)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed > 3 {
		t.Errorf("Refill must not exceed the burst cap, got %d allowed", allowed)
	}
}
