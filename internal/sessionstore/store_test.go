package sessionstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
)

func sampleRecords() []domain.NotificationRecord {
	return []domain.NotificationRecord{
		{ID: "n2", Kind: domain.NotificationKindDelivery, Title: "Delivery Updated", Message: "Delivery D-9 is in transit", CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 5, time.UTC)},
		{ID: "n1", Kind: domain.NotificationKindSale, Title: "New Sale Recorded", Message: "Sale of 120.00 at Kisumu", CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), Read: true},
	}
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	s := New(b, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte(`{"v":7,"records":[]}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"not json":     `[{"id":`,
		"missing id":   `{"v":1,"records":[{"kind":"sale","created_at":"2026-03-01T09:30:00Z"}]}`,
		"unknown kind": `{"v":1,"records":[{"id":"a","kind":"promo","created_at":"2026-03-01T09:30:00Z"}]}`,
		"bad time":     `{"v":1,"records":[{"id":"a","kind":"sale","created_at":"yesterday"}]}`,
		"legacy array": `[{"id":"a","type":"sale","timestamp":"2026-03-01"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodePreservesTimestamps(t *testing.T) {
	in := sampleRecords()
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, in[0].CreatedAt.Equal(out[0].CreatedAt))
	assert.Equal(t, in[1].Read, out[1].Read)
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	s := New(NewMemoryBackend(), nil)
	got := s.Load(context.Background(), "notifications:nobody:owner")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLoadCorruptDataIsEmpty(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.Put(ctx, "notifications:u1:owner", []byte("{garbage")))

	s := New(b, zap.NewNop())
	assert.Empty(t, s.Load(ctx, "notifications:u1:owner"))
}

func TestSaveIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	key := domain.KeyFor(domain.Identity{UserID: "u1", Role: domain.RoleOwner})

	require.NoError(t, s.Save(ctx, key, sampleRecords()))
	require.NoError(t, s.Save(ctx, key, sampleRecords()[:1]))

	got := s.Load(ctx, key)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)
}

func TestIdentitiesDoNotShareRecords(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	owner := domain.KeyFor(domain.Identity{UserID: "u1", Role: domain.RoleOwner})
	staff := domain.KeyFor(domain.Identity{UserID: "u2", Role: domain.RoleStaff, BranchID: 3})
	sameUserOtherRole := domain.KeyFor(domain.Identity{UserID: "u1", Role: domain.RoleManager})

	require.NoError(t, s.Save(ctx, owner, sampleRecords()))

	assert.Len(t, s.Load(ctx, owner), 2)
	assert.Empty(t, s.Load(ctx, staff))
	assert.Empty(t, s.Load(ctx, sameUserOtherRole))
}

func TestClearRemovesOnlyThatKey(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), zap.NewNop())
	a := domain.SessionKey("notifications:a:owner")
	b := domain.SessionKey("notifications:b:staff")

	require.NoError(t, s.Save(ctx, a, sampleRecords()))
	require.NoError(t, s.Save(ctx, b, sampleRecords()))
	require.NoError(t, s.Clear(ctx, a))

	assert.Empty(t, s.Load(ctx, a))
	assert.Len(t, s.Load(ctx, b), 2)
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	_, err := OpenBackend("etcd", "", "", 0)
	assert.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	b, err := NewRedisBackend(addr, 0, "storepulse-test:")
	require.NoError(t, err)
	defer b.Close()

	s := New(b, zap.NewNop())
	key := domain.SessionKey("notifications:redis:owner")
	require.NoError(t, s.Save(ctx, key, sampleRecords()))
	assert.Len(t, s.Load(ctx, key), 2)
	require.NoError(t, s.Clear(ctx, key))
	assert.Empty(t, s.Load(ctx, key))
}
