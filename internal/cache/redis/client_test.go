package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	c, err := NewClient(context.Background(), config.RedisConfig{
		Host:              mr.Host(),
		Port:              port,
		RecommendationTTL: 60,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRecommendationRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if _, hit, err := c.GetRecommendation(ctx, 5); err != nil || hit {
		t.Fatalf("GetRecommendation before set = %v, %v", hit, err)
	}

	id := int64(12)
	rec := &models.Recommendation{
		RecommendedVendor:   "Tech Supply Co.",
		RecommendedVendorID: &id,
		Reasoning:           "Best value",
		KeyFactors:          []string{"Price", "Delivery"},
	}
	if err := c.SetRecommendation(ctx, 5, rec); err != nil {
		t.Fatalf("SetRecommendation: %v", err)
	}

	if ttl := mr.TTL("recommendation:5"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	got, hit, err := c.GetRecommendation(ctx, 5)
	if err != nil || !hit {
		t.Fatalf("GetRecommendation = %v, %v", hit, err)
	}
	if got.RecommendedVendor != rec.RecommendedVendor || *got.RecommendedVendorID != 12 || len(got.KeyFactors) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, hit, _ := c.GetRecommendation(ctx, 5); hit {
		t.Error("entry survived its ttl")
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Set("recommendation:9", "{not json")

	if _, hit, err := c.GetRecommendation(context.Background(), 9); err == nil || hit {
		t.Errorf("GetRecommendation = %v, %v; want decode error", hit, err)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: 1})
	if err == nil {
		t.Fatal("expected connection error")
	}
}
