package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dispatcharr/exporter/internal/cache"
	"github.com/dispatcharr/exporter/internal/cache/memory"
)

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	t.Parallel()

	c := memory.New()
	if _, err := c.Get(context.Background(), "absent"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := memory.New()
	if err := c.Set(ctx, "prometheus_exporter:server_running", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := c.Get(ctx, "prometheus_exporter:server_running")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "1" {
		t.Fatalf("Get = %q, want %q", val, "1")
	}
	if err := c.Delete(ctx, "prometheus_exporter:server_running"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "prometheus_exporter:server_running"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingKeysIsNoError(t *testing.T) {
	t.Parallel()

	if err := memory.New().Delete(context.Background(), "a", "b", "c"); err != nil {
		t.Fatalf("Delete of missing keys: %v", err)
	}
}

func TestScanMatchesGlobPatterns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := memory.New()
	for _, key := range []string{
		"channel_stream:1",
		"channel_stream:2",
		"channel:aaaa:viewers",
		"vod_session:xyz",
	} {
		if err := c.Set(ctx, key, "v"); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	if err := c.HSet(ctx, "ts_proxy:channel:aaaa:metadata", map[string]string{"state": "active"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	keys, err := c.Scan(ctx, "channel_stream:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "channel_stream:1" || keys[1] != "channel_stream:2" {
		t.Fatalf("Scan channel_stream:* = %v", keys)
	}

	keys, err = c.Scan(ctx, "ts_proxy:channel:*:metadata")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ts_proxy:channel:aaaa:metadata" {
		t.Fatalf("Scan metadata pattern = %v", keys)
	}
}

func TestHashAndSetOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := memory.New()
	if err := c.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	fields, err := c.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if len(fields) != 2 || fields["a"] != "1" || fields["b"] != "2" {
		t.Fatalf("HGetAll = %v", fields)
	}

	missing, err := c.HGetAll(ctx, "nope")
	if err != nil {
		t.Fatalf("HGetAll missing: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("HGetAll missing = %v, want empty", missing)
	}

	if err := c.SAdd(ctx, "s", "x", "y", "x"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	n, err := c.SCard(ctx, "s")
	if err != nil {
		t.Fatalf("SCard: %v", err)
	}
	if n != 2 {
		t.Fatalf("SCard = %d, want 2", n)
	}
	members, err := c.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "x" || members[1] != "y" {
		t.Fatalf("SMembers = %v", members)
	}
}
