package tracker

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	anonymousUserKey = "anonymous_user_id"
	sessionIDKey     = "tracking_session_id"

	anonymousPrefix = "anon_"
)

// IdentityResolver hands out the anonymous visitor id and the tracking
// session id. Both are created lazily and kept in session storage. When the
// storage fails every call gets a fresh id instead of an error.
type IdentityResolver struct {
	storage Storage
	now     func() time.Time
	random  func() string
	logger  *zap.Logger
}

type IdentityOption func(*IdentityResolver)

func WithIdentityClock(now func() time.Time) IdentityOption {
	return func(r *IdentityResolver) { r.now = now }
}

func WithRandomSource(random func() string) IdentityOption {
	return func(r *IdentityResolver) { r.random = random }
}

func NewIdentityResolver(storage Storage, logger *zap.Logger, opts ...IdentityOption) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &IdentityResolver{
		storage: storage,
		now:     time.Now,
		random:  randomBase36,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdentityResolver) GetOrCreateAnonymousUserID() string {
	return r.getOrCreate(anonymousUserKey, func() string {
		return fmt.Sprintf("%s%d_%s%s", anonymousPrefix, r.now().UnixMilli(), r.random(), r.random())
	})
}

// ClearAnonymousUserID forgets the anonymous id, typically right after login.
func (r *IdentityResolver) ClearAnonymousUserID() {
	if err := r.storage.Delete(anonymousUserKey); err != nil {
		r.logger.Warn("Failed to clear anonymous user id", zap.Error(err))
	}
}

// SessionID returns the tracking session id attached to every envelope.
func (r *IdentityResolver) SessionID() string {
	return r.getOrCreate(sessionIDKey, func() string {
		return fmt.Sprintf("session_%d_%s", r.now().UnixMilli(), r.random())
	})
}

func (r *IdentityResolver) getOrCreate(key string, generate func() string) string {
	value, ok, err := r.storage.Get(key)
	if err != nil {
		r.logger.Warn("Identity storage unavailable", zap.String("key", key), zap.Error(err))
		return generate()
	}
	if ok && value != "" {
		return value
	}

	value = generate()
	if err := r.storage.Set(key, value); err != nil {
		r.logger.Warn("Failed to persist identity", zap.String("key", key), zap.Error(err))
	}
	return value
}

func IsAnonymousUserID(id string) bool {
	return strings.HasPrefix(id, anonymousPrefix)
}

func randomBase36() string {
	return strconv.FormatUint(rand.Uint64(), 36)
}
