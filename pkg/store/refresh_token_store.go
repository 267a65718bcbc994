package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates token not found, expired or revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates an already rotated token was presented.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists refresh tokens for rotation and replay detection.
// Each sign-in starts a family; rotating hands out the family's next token and
// presenting a superseded token revokes the whole family.
type RefreshTokenStore interface {
	NewToken(ctx context.Context, userID string, ttl time.Duration) (string, error)
	RotateToken(ctx context.Context, token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(ctx context.Context, token string) error
}

type refreshFamily struct {
	userID      string
	currentHash string
	expiry      time.Time
}

// MemoryRefreshTokenStore keeps refresh token families in memory (single
// instance only).
type MemoryRefreshTokenStore struct {
	mu          sync.Mutex
	families    map[string]refreshFamily // familyID -> family
	tokenFamily map[string]string        // tokenHash -> familyID
}

// NewMemoryRefreshTokenStore constructs an in-memory refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families:    make(map[string]refreshFamily),
		tokenFamily: make(map[string]string),
	}
}

// NewToken starts a family and returns its first token.
func (s *MemoryRefreshTokenStore) NewToken(_ context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	familyID := uuid.NewString()

	s.mu.Lock()
	s.families[familyID] = refreshFamily{userID: userID, currentHash: tokenHash, expiry: time.Now().Add(ttl)}
	s.tokenFamily[tokenHash] = familyID
	s.mu.Unlock()
	return token, nil
}

// RotateToken exchanges the family's current token for a new one.
func (s *MemoryRefreshTokenStore) RotateToken(_ context.Context, token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.tokenFamily[tokenHash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family, ok := s.families[familyID]
	if !ok || time.Now().After(family.expiry) {
		s.revokeFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.currentHash != tokenHash {
		s.revokeFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	newToken, err := generateRefreshToken()
	if err != nil {
		return "", "", err
	}
	newHash := refreshTokenHash(newToken)
	family.currentHash = newHash
	family.expiry = time.Now().Add(ttl)
	s.families[familyID] = family
	s.tokenFamily[newHash] = familyID
	return family.userID, newToken, nil
}

// DeleteToken revokes the family containing token.
func (s *MemoryRefreshTokenStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	if familyID, ok := s.tokenFamily[refreshTokenHash(token)]; ok {
		s.revokeFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

// RevokeUserRefreshTokens revokes every family of userID.
func (s *MemoryRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	s.mu.Lock()
	for familyID, family := range s.families {
		if family.userID == userID {
			s.revokeFamilyLocked(familyID)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) revokeFamilyLocked(familyID string) {
	delete(s.families, familyID)
	for hash, id := range s.tokenFamily {
		if id == familyID {
			delete(s.tokenFamily, hash)
		}
	}
}

// RedisRefreshTokenStore stores refresh token families in Redis. Token keys
// point at a family hash; deleting the hash invalidates every token of the
// family.
type RedisRefreshTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshTokenStore builds a Redis-backed refresh token store.
func NewRedisRefreshTokenStore(client *redis.Client, prefix string) *RedisRefreshTokenStore {
	if prefix == "" {
		prefix = "charchat"
	}
	return &RedisRefreshTokenStore{client: client, prefix: prefix}
}

// NewToken starts a family and returns its first token.
func (s *RedisRefreshTokenStore) NewToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	familyID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(tokenHash), familyID, ttl)
	pipe.HSet(ctx, s.familyKey(familyID), "userId", userID, "currentHash", tokenHash)
	pipe.Expire(ctx, s.familyKey(familyID), ttl)
	pipe.SAdd(ctx, s.userKey(userID), familyID)
	pipe.Expire(ctx, s.userKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// RotateToken exchanges the family's current token for a new one. The family
// hash is watched so concurrent rotations of one token cannot both succeed.
func (s *RedisRefreshTokenStore) RotateToken(ctx context.Context, token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, s.tokenKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", err
	}
	familyKey := s.familyKey(familyID)

	for {
		var userID, newToken string
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			family, err := tx.HGetAll(ctx, familyKey).Result()
			if err != nil {
				return err
			}
			userID = family["userId"]
			if userID == "" {
				return ErrInvalidRefreshToken
			}
			if family["currentHash"] != tokenHash {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, familyKey)
					pipe.SRem(ctx, s.userKey(userID), familyID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrRefreshTokenReplay
			}

			newToken, err = generateRefreshToken()
			if err != nil {
				return err
			}
			newHash := refreshTokenHash(newToken)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.tokenKey(newHash), familyID, ttl)
				pipe.HSet(ctx, familyKey, "currentHash", newHash)
				pipe.Expire(ctx, familyKey, ttl)
				// The old token keeps pointing at the family so a replay is
				// recognised until the family itself expires.
				pipe.Expire(ctx, s.tokenKey(tokenHash), ttl)
				pipe.Expire(ctx, s.userKey(userID), ttl)
				return nil
			})
			return err
		}, familyKey)
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			continue
		}
		if err != nil {
			return "", "", err
		}
		return userID, newToken, nil
	}
}

// DeleteToken revokes the family containing token.
func (s *RedisRefreshTokenStore) DeleteToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, s.tokenKey(refreshTokenHash(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	userID, err := s.client.HGet(ctx, s.familyKey(familyID), "userId").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.familyKey(familyID))
	if userID != "" {
		pipe.SRem(ctx, s.userKey(userID), familyID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RevokeUserRefreshTokens revokes every family of userID.
func (s *RedisRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	familyIDs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, familyID := range familyIDs {
		pipe.Del(ctx, s.familyKey(familyID))
	}
	pipe.Del(ctx, s.userKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRefreshTokenStore) tokenKey(tokenHash string) string {
	return s.prefix + ":refresh:token:" + tokenHash
}

func (s *RedisRefreshTokenStore) familyKey(familyID string) string {
	return s.prefix + ":refresh:family:" + familyID
}

func (s *RedisRefreshTokenStore) userKey(userID string) string {
	return s.prefix + ":refresh:user:" + userID
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
