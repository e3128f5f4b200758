package forge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenCache_MintsOnFirstUse(t *testing.T) {
	calls := 0
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return "tok-1", time.Now().Add(time.Hour), nil
	})

	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("expected tok-1, got %q", tok)
	}
	if calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", calls)
	}
}

func TestTokenCache_ReusesUnexpiredToken(t *testing.T) {
	calls := 0
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return "tok-1", time.Now().Add(time.Hour), nil
	})

	for i := 0; i < 3; i++ {
		if _, err := cache.Token(context.Background()); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 refresh call across repeated use, got %d", calls)
	}
}

func TestTokenCache_RenewsWhenNearExpiry(t *testing.T) {
	calls := 0
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return "tok", time.Now().Add(renewBefore - time.Second), nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a renewal on the second call, got %d refresh calls", calls)
	}
}

func TestTokenCache_PropagatesRefreshError(t *testing.T) {
	wantErr := errors.New("installation not found")
	cache := NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, wantErr
	})

	_, err := cache.Token(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}
