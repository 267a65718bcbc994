package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type refreshStoreUnderTest interface {
	RefreshTokenStore
	UserRefreshTokenRevoker
}

func refreshStores(t *testing.T) map[string]refreshStoreUnderTest {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]refreshStoreUnderTest{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  NewRedisRefreshTokenStore(client, "test"),
	}
}

func TestRefreshTokenStoreRotateAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(ctx, "user-1", time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			userID, nextToken, err := s.RotateToken(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("rotate token: %v", err)
			}
			if userID != "user-1" {
				t.Fatalf("unexpected user id: %q", userID)
			}
			if nextToken == "" || nextToken == token {
				t.Fatalf("expected rotated token")
			}
			if err := s.DeleteToken(ctx, nextToken); err != nil {
				t.Fatalf("delete token: %v", err)
			}
			if _, _, err := s.RotateToken(ctx, nextToken, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token after delete, got: %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreDetectsReplay(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(ctx, "user-2", time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			_, nextToken, err := s.RotateToken(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("first rotate: %v", err)
			}
			if _, _, err := s.RotateToken(ctx, token, time.Minute); !errors.Is(err, ErrRefreshTokenReplay) {
				t.Fatalf("expected replay detection, got: %v", err)
			}
			if _, _, err := s.RotateToken(ctx, nextToken, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected family revoked after replay, got: %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreRevokeUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := s.NewToken(ctx, "user-3", time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			second, err := s.NewToken(ctx, "user-3", time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			other, err := s.NewToken(ctx, "user-4", time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			if err := s.RevokeUserRefreshTokens("user-3"); err != nil {
				t.Fatalf("revoke user: %v", err)
			}
			for _, token := range []string{first, second} {
				if _, _, err := s.RotateToken(ctx, token, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("expected revoked token, got: %v", err)
				}
			}
			if _, _, err := s.RotateToken(ctx, other, time.Minute); err != nil {
				t.Fatalf("expected other user's token to survive: %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreUnknownToken(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.RotateToken(ctx, "nope", time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token, got: %v", err)
			}
		})
	}
}
