package keys

//go:generate mockgen -source=keyring.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tokenverif/internal/attestation/keys/mocks"
	"tokenverif/internal/attestation/models"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/audit/publishers/memory"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

type KeyRingSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *memory.Publisher
	ring      *KeyRing
	ctx       context.Context
	now       time.Time
}

func TestKeyRingSuite(t *testing.T) {
	suite.Run(t, new(KeyRingSuite))
}

func (s *KeyRingSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.publisher = memory.NewPublisher()
	s.ring = New(s.store, WithAuditPublisher(s.publisher))
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *KeyRingSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *KeyRingSuite) existingKey() *models.SigningKey {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	return &models.SigningKey{
		ID:         id.NewSigningKeyID(),
		Algorithm:  models.AlgorithmEd25519,
		PublicKey:  pub,
		PrivateKey: priv,
		Active:     true,
	}
}

func (s *KeyRingSuite) TestActive() {
	s.Run("loads the stored key once and caches it", func() {
		s.SetupTest()
		key := s.existingKey()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(key, nil).Times(1)

		first, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		second, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)

		s.Equal(key.ID, first.ID)
		s.Same(first, second)
	})

	s.Run("creates a key when none exists", func() {
		s.SetupTest()
		var created *models.SigningKey
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.store.EXPECT().CreateActiveSigningKey(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, k *models.SigningKey) error {
				created = k
				return nil
			})

		key, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		s.Require().NotNil(created)
		s.Equal(created.ID, key.ID)
		s.True(key.HasValidMaterial())
		s.True(key.Active)
		s.Equal(s.now, key.CreatedAt)
		s.Len(s.publisher.ByAction("signing_key_created"), 1)
	})

	s.Run("uses the winner's key after a creation conflict", func() {
		s.SetupTest()
		winner := s.existingKey()
		gomock.InOrder(
			s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(nil, sentinel.ErrNotFound),
			s.store.EXPECT().CreateActiveSigningKey(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
			s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(winner, nil),
		)

		key, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		s.Equal(winner.ID, key.ID)
		s.Empty(s.publisher.ByAction("signing_key_created"))
	})

	s.Run("store failure is returned and nothing is cached", func() {
		s.SetupTest()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(nil, errors.New("db down"))
		_, err := s.ring.Active(s.ctx)
		s.Require().Error(err)

		key := s.existingKey()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(key, nil)
		got, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		s.Equal(key.ID, got.ID)
	})

	s.Run("rejects a stored key without private material", func() {
		s.SetupTest()
		key := s.existingKey().PublicOnly()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(key, nil)
		_, err := s.ring.Active(s.ctx)
		s.Require().Error(err)
	})

	s.Run("concurrent first use creates exactly one key", func() {
		s.SetupTest()
		var mu sync.Mutex
		var stored *models.SigningKey
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).DoAndReturn(func(context.Context) (*models.SigningKey, error) {
			mu.Lock()
			defer mu.Unlock()
			if stored == nil {
				return nil, sentinel.ErrNotFound
			}
			return stored, nil
		}).AnyTimes()
		s.store.EXPECT().CreateActiveSigningKey(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, k *models.SigningKey) error {
			mu.Lock()
			defer mu.Unlock()
			if stored != nil {
				return sentinel.ErrConflict
			}
			stored = k
			return nil
		}).AnyTimes()

		const workers = 16
		ids := make(chan id.SigningKeyID, workers)
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key, err := s.ring.Active(s.ctx)
				if err == nil {
					ids <- key.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[id.SigningKeyID]struct{}{}
		for keyID := range ids {
			seen[keyID] = struct{}{}
		}
		s.Len(seen, 1)
		s.Len(s.publisher.ByAction("signing_key_created"), 1)
	})
}

func (s *KeyRingSuite) TestReloadInterval() {
	s.ring = New(s.store, WithReloadInterval(time.Minute))
	first := s.existingKey()
	second := s.existingKey()
	gomock.InOrder(
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(first, nil),
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(second, nil),
	)

	key, err := s.ring.Active(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.ID, key.ID)

	key, err = s.ring.Active(requestcontext.WithTime(context.Background(), s.now.Add(30*time.Second)))
	s.Require().NoError(err)
	s.Equal(first.ID, key.ID, "served from cache within the interval")

	key, err = s.ring.Active(requestcontext.WithTime(context.Background(), s.now.Add(2*time.Minute)))
	s.Require().NoError(err)
	s.Equal(second.ID, key.ID, "rotation by another process is picked up")

	retiredAt := s.now.Add(time.Minute)
	retired := first.PublicOnly()
	retired.Active = false
	retired.RetiredAt = &retiredAt
	s.store.EXPECT().GetSigningKey(gomock.Any(), first.ID).Return(retired, nil)

	got, err := s.ring.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.False(got.Active)
	s.Equal(retiredAt, *got.RetiredAt)
}

func (s *KeyRingSuite) TestGet() {
	s.Run("caches the public half", func() {
		s.SetupTest()
		key := s.existingKey()
		s.store.EXPECT().GetSigningKey(gomock.Any(), key.ID).Return(key, nil).Times(1)

		got, err := s.ring.Get(s.ctx, key.ID)
		s.Require().NoError(err)
		s.Nil(got.PrivateKey)
		s.Equal(key.PublicKey, got.PublicKey)

		_, err = s.ring.Get(s.ctx, key.ID)
		s.Require().NoError(err)
	})

	s.Run("unknown key is not found", func() {
		s.SetupTest()
		missing := id.NewSigningKeyID()
		s.store.EXPECT().GetSigningKey(gomock.Any(), missing).Return(nil, sentinel.ErrNotFound)
		_, err := s.ring.Get(s.ctx, missing)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *KeyRingSuite) TestRotate() {
	s.Run("retires the active key and activates a new one", func() {
		s.SetupTest()
		current := s.existingKey()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(current, nil)
		s.store.EXPECT().RotateSigningKey(gomock.Any(), current.ID, gomock.Any(), s.now).Return(nil)

		next, err := s.ring.Rotate(s.ctx)
		s.Require().NoError(err)
		s.NotEqual(current.ID, next.ID)
		s.True(next.HasValidMaterial())

		active, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		s.Equal(next.ID, active.ID)

		retired, err := s.ring.Get(s.ctx, current.ID)
		s.Require().NoError(err)
		s.False(retired.Active)
		s.Require().NotNil(retired.RetiredAt)
		s.Equal(current.PublicKey, retired.PublicKey)

		events := s.publisher.ByAction("signing_key_rotated")
		s.Require().Len(events, 1)
		s.Equal(current.ID.String(), events[0].Attrs["retired_key_id"])
	})

	s.Run("store failure leaves the cache untouched", func() {
		s.SetupTest()
		current := s.existingKey()
		s.store.EXPECT().GetActiveSigningKey(gomock.Any()).Return(current, nil).Times(2)
		s.store.EXPECT().RotateSigningKey(gomock.Any(), current.ID, gomock.Any(), gomock.Any()).Return(errors.New("tx aborted"))

		_, err := s.ring.Rotate(s.ctx)
		s.Require().Error(err)

		active, err := s.ring.Active(s.ctx)
		s.Require().NoError(err)
		s.Equal(current.ID, active.ID)
	})
}
