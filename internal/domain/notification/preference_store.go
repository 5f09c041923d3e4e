package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// PreferenceStore resolves and updates user preferences on top of a
// repository. Absent records resolve to DefaultPreference.
type PreferenceStore struct {
	repo PreferenceRepository
	now  func() time.Time
}

// NewPreferenceStore creates a new PreferenceStore.
func NewPreferenceStore(repo PreferenceRepository) *PreferenceStore {
	return &PreferenceStore{repo: repo, now: time.Now}
}

// Get returns the stored preference, or the default when none exists.
// Infrastructure failures are returned unchanged.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (Preference, error) {
	if userID == "" {
		return Preference{}, shared.ErrEmptyUserID
	}

	pref, err := s.repo.Find(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return DefaultPreference(userID), nil
		}
		return Preference{}, fmt.Errorf("preference store: find %s: %w", userID, err)
	}
	return *pref, nil
}

// Update merges the patch into the current (or default) record, validates,
// persists and returns the full record with the changed field paths.
func (s *PreferenceStore) Update(ctx context.Context, userID string, patch PreferencePatch) (Preference, []string, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return Preference{}, nil, err
	}

	next, changed, err := patch.Apply(current)
	if err != nil {
		return Preference{}, nil, err
	}

	next.UserID = userID
	next.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, &next); err != nil {
		return Preference{}, nil, fmt.Errorf("preference store: save %s: %w", userID, err)
	}
	return next, changed, nil
}
