package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New(Policy{TTL: time.Minute})

	c.Set("report", 42)
	v, ok := c.Get("report")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("value = %v, want 42", v)
	}
}

func TestGet_Miss(t *testing.T) {
	c := New(Policy{TTL: time.Minute})

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Policy{TTL: time.Minute})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("report", "fresh")

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("report"); !ok {
		t.Error("entry should survive inside the TTL window")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("report"); ok {
		t.Error("entry should expire past the TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be evicted on access, len = %d", c.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := New(Policy{})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("pinned", 1)
	now = now.Add(24 * time.Hour)
	if _, ok := c.Get("pinned"); !ok {
		t.Error("zero-TTL entry must not expire")
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := New(Policy{TTL: time.Minute})

	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Error("invalidated key should miss")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("other keys should survive invalidation")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", c.Len())
	}
}

func TestSetOverwritesAndRefreshesTTL(t *testing.T) {
	c := New(Policy{TTL: time.Minute})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("report", "v1")
	now = now.Add(45 * time.Second)
	c.Set("report", "v2")

	now = now.Add(30 * time.Second)
	v, ok := c.Get("report")
	if !ok {
		t.Fatal("rewritten entry should still be live")
	}
	if v.(string) != "v2" {
		t.Errorf("value = %v, want v2", v)
	}
}
