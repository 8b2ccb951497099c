// Package keys owns the attestation signing keys.
//
// KeyRing is the single path through which the active key is created: the
// first caller generates and persists it while concurrent callers wait on the
// same singleflight call, and the store's one-active-key constraint catches
// creation from another process. The active key is re-read from the store
// once it has been cached for longer than the reload interval, so a rotation
// by another process is picked up. Public halves of every key seen are cached
// for verification; retired keys are never removed.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tokenverif/internal/attestation/models"
	"tokenverif/internal/platform/metrics"
	id "tokenverif/pkg/domain"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

// Store persists signing keys.
type Store interface {
	GetActiveSigningKey(ctx context.Context) (*models.SigningKey, error)
	GetSigningKey(ctx context.Context, keyID id.SigningKeyID) (*models.SigningKey, error)
	// CreateActiveSigningKey inserts key as active, failing with
	// sentinel.ErrConflict if an active key already exists.
	CreateActiveSigningKey(ctx context.Context, key *models.SigningKey) error
	// RotateSigningKey retires current and inserts next as active atomically.
	RotateSigningKey(ctx context.Context, current id.SigningKeyID, next *models.SigningKey, now time.Time) error
}

const (
	activeKeyFlight = "active"

	defaultReloadInterval = time.Minute
)

type KeyRing struct {
	store     Store
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher audit.Publisher
	reload    time.Duration

	mu       sync.RWMutex
	active   *models.SigningKey
	loadedAt time.Time
	public   map[id.SigningKeyID]*models.SigningKey
}

type Option func(*KeyRing)

func WithLogger(logger *slog.Logger) Option {
	return func(k *KeyRing) {
		k.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(k *KeyRing) {
		k.metrics = m
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(k *KeyRing) {
		k.publisher = p
	}
}

// WithReloadInterval sets how long the cached active key is used before it
// is re-read from the store.
func WithReloadInterval(d time.Duration) Option {
	return func(k *KeyRing) {
		if d > 0 {
			k.reload = d
		}
	}
}

func New(store Store, opts ...Option) *KeyRing {
	k := &KeyRing{
		store:  store,
		reload: defaultReloadInterval,
		public: make(map[id.SigningKeyID]*models.SigningKey),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Active returns the active signing key, creating one on first use.
func (k *KeyRing) Active(ctx context.Context) (*models.SigningKey, error) {
	now := requestcontext.Now(ctx)
	k.mu.RLock()
	cached, loadedAt := k.active, k.loadedAt
	k.mu.RUnlock()
	if cached != nil && now.Sub(loadedAt) < k.reload {
		return cached, nil
	}

	v, err, _ := k.group.Do(activeKeyFlight, func() (any, error) {
		return k.loadOrCreate(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SigningKey), nil
}

func (k *KeyRing) loadOrCreate(ctx context.Context) (*models.SigningKey, error) {
	key, err := k.store.GetActiveSigningKey(ctx)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		key, err = k.create(ctx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load active signing key: %w", err)
	}
	if !key.HasValidMaterial() || key.PrivateKey == nil {
		return nil, fmt.Errorf("active signing key %s has invalid material", key.ID)
	}
	k.forgetReplaced(key.ID)
	k.remember(key, requestcontext.Now(ctx))
	return key, nil
}

func (k *KeyRing) create(ctx context.Context) (*models.SigningKey, error) {
	key, err := generate(requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = k.store.CreateActiveSigningKey(ctx, key)
	if errors.Is(err, sentinel.ErrConflict) {
		// Another process won the race; use its key.
		existing, getErr := k.store.GetActiveSigningKey(ctx)
		if getErr != nil {
			return nil, fmt.Errorf("load active signing key after conflict: %w", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}

	k.metrics.IncSigningKeysCreated()
	audit.LogAudit(ctx, k.logger, k.publisher, audit.Event{
		Action:  audit.EventSigningKeyCreated,
		Subject: key.ID.String(),
	})
	return key, nil
}

// Get returns a key by id, active or retired, for verification. Only the
// public half is guaranteed to be present.
func (k *KeyRing) Get(ctx context.Context, keyID id.SigningKeyID) (*models.SigningKey, error) {
	k.mu.RLock()
	cached, ok := k.public[keyID]
	k.mu.RUnlock()
	if ok {
		return cached, nil
	}

	key, err := k.store.GetSigningKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("load signing key %s: %w", keyID, err)
	}
	pub := key.PublicOnly()
	k.mu.Lock()
	k.public[keyID] = pub
	k.mu.Unlock()
	return pub, nil
}

// Rotate retires the active key and makes a fresh key active. Attestations
// signed with the retired key keep verifying against its stored public key.
func (k *KeyRing) Rotate(ctx context.Context) (*models.SigningKey, error) {
	v, err, _ := k.group.Do(activeKeyFlight, func() (any, error) {
		current, err := k.store.GetActiveSigningKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("load active signing key: %w", err)
		}
		now := requestcontext.Now(ctx)
		next, err := generate(now)
		if err != nil {
			return nil, err
		}
		if err := k.store.RotateSigningKey(ctx, current.ID, next, now); err != nil {
			return nil, fmt.Errorf("rotate signing key: %w", err)
		}

		k.mu.Lock()
		retired := current.PublicOnly()
		retired.Active = false
		retiredAt := now
		retired.RetiredAt = &retiredAt
		k.public[current.ID] = retired
		k.mu.Unlock()
		k.remember(next, now)

		k.metrics.IncSigningKeysCreated()
		audit.LogAudit(ctx, k.logger, k.publisher, audit.Event{
			Action:  audit.EventSigningKeyRotated,
			Subject: next.ID.String(),
			Attrs:   map[string]string{"retired_key_id": current.ID.String()},
		})
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SigningKey), nil
}

// Invalidate drops the cached active key so the next call reloads it.
func (k *KeyRing) Invalidate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = nil
}

func (k *KeyRing) remember(key *models.SigningKey, at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = key
	k.loadedAt = at
	k.public[key.ID] = key.PublicOnly()
}

// forgetReplaced drops the cached public half of a key that another process
// retired, so Get re-reads its retirement from the store.
func (k *KeyRing) forgetReplaced(activeID id.SigningKeyID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active != nil && k.active.ID != activeID {
		delete(k.public, k.active.ID)
	}
}

func generate(now time.Time) (*models.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	key := &models.SigningKey{
		ID:         id.NewSigningKeyID(),
		Algorithm:  models.AlgorithmEd25519,
		PublicKey:  pub,
		PrivateKey: priv,
		Active:     true,
		CreatedAt:  now,
	}
	if !key.HasValidMaterial() {
		return nil, errors.New("generated signing key failed self-check")
	}
	return key, nil
}
