package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

type stubPreferenceRepo struct {
	stored  map[string]Preference
	findErr error
	saves   int
}

func (r *stubPreferenceRepo) Find(_ context.Context, userID string) (*Preference, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	p, ok := r.stored[userID]
	if !ok {
		return nil, shared.NewDomainError("preference", "Find", shared.ErrNotFound, "no preference")
	}
	return &p, nil
}

func (r *stubPreferenceRepo) Save(_ context.Context, p *Preference) error {
	if r.stored == nil {
		r.stored = map[string]Preference{}
	}
	r.stored[p.UserID] = *p
	r.saves++
	return nil
}

func TestPreferenceStore_GetUnknownUserReturnsDefault(t *testing.T) {
	repo := &stubPreferenceRepo{}
	store := NewPreferenceStore(repo)

	p, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, DefaultPreference("nobody"), p)
	assert.Zero(t, repo.saves, "default must not be persisted implicitly")
}

func TestPreferenceStore_GetPropagatesInfraErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := NewPreferenceStore(&stubPreferenceRepo{findErr: boom})

	_, err := store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestPreferenceStore_UpdateMergesAndPersists(t *testing.T) {
	repo := &stubPreferenceRepo{}
	store := NewPreferenceStore(repo)
	store.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	daily := "daily"
	p, changed, err := store.Update(context.Background(), "u1", PreferencePatch{DigestFrequency: &daily})
	require.NoError(t, err)
	assert.Equal(t, DigestDaily, p.DigestFrequency)
	assert.Equal(t, []string{"digestFrequency"}, changed)
	assert.Equal(t, 1, repo.saves)

	off := false
	p, _, err = store.Update(context.Background(), "u1", PreferencePatch{Email: map[string]bool{"goal-reached": off}})
	require.NoError(t, err)
	assert.Equal(t, DigestDaily, p.DigestFrequency, "earlier change preserved")
	assert.False(t, p.Enabled(ChannelEmail, TypeGoalReached))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), p.UpdatedAt)
}

func TestPreferenceStore_UpdateRejectsInvalid(t *testing.T) {
	repo := &stubPreferenceRepo{}
	store := NewPreferenceStore(repo)

	bad := "sometimes"
	_, _, err := store.Update(context.Background(), "u1", PreferencePatch{DigestFrequency: &bad})
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, repo.saves)
}

func TestPreferenceStore_EmptyUserID(t *testing.T) {
	store := NewPreferenceStore(&stubPreferenceRepo{})
	_, err := store.Get(context.Background(), "")
	assert.True(t, shared.IsValidation(err))
}
