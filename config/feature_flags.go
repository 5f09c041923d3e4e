package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Flag names.
const (
	FeaturePushChannel    = "channel.push"       // Web Push delivery
	FeatureEmailChannel   = "channel.email"      // Email delivery and digest queueing
	FeatureBatchPrefilter = "dispatch.prefilter" // Drop batch items for users with nothing enabled
	FeatureAMQPIntake     = "intake.amqp"        // Consume dispatch requests from RabbitMQ
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one switch. RolloutPercent 0 means off, 100 means on for
// everyone; values in between bucket users by a hash of their id.
type Feature struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	RolloutPercent int    `json:"rolloutPercent"`
}

var defaultFeatures = []Feature{
	{FeaturePushChannel, "Deliver notifications over Web Push", 100},
	{FeatureEmailChannel, "Deliver notifications by email or digest", 100},
	{FeatureBatchPrefilter, "Skip batch items for users with every channel disabled", 100},
	// off until a broker is provisioned
	{FeatureAMQPIntake, "Consume dispatch requests from the message broker", 0},
}

// FeatureFlags gates delivery channels and intake paths at runtime. A nil
// *FeatureFlags allows everything.
type FeatureFlags struct {
	mu        sync.RWMutex
	rollout   map[string]*Feature
	overrides map[string]map[string]bool // user -> feature -> on
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		rollout:   make(map[string]*Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures {
		ff.rollout[f.Name] = &f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME>=true|false|<percent> over the
// defaults, e.g. FEATURE_CHANNEL_PUSH=false or FEATURE_CHANNEL_EMAIL=25.
// Unparseable values are ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.rollout {
		raw := os.Getenv("FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_")))
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.RolloutPercent = 0
			if on {
				f.RolloutPercent = 100
			}
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.RolloutPercent = p
		}
	}
	return ff
}

// IsEnabled reports whether featureName is on for userID. With an empty
// userID only a full rollout counts as on.
func (ff *FeatureFlags) IsEnabled(featureName, userID string) bool {
	if ff == nil {
		return true
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[userID][featureName]; ok && userID != "" {
		return on
	}

	f, ok := ff.rollout[featureName]
	switch {
	case !ok || f.RolloutPercent <= 0:
		return false
	case f.RolloutPercent >= 100:
		return true
	case userID == "":
		return false
	}

	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < f.RolloutPercent
}

// PushAllowed and EmailAllowed make FeatureFlags a dispatch channel gate.
func (ff *FeatureFlags) PushAllowed(userID string) bool {
	return ff.IsEnabled(FeaturePushChannel, userID)
}

func (ff *FeatureFlags) EmailAllowed(userID string) bool {
	return ff.IsEnabled(FeatureEmailChannel, userID)
}

// SetRolloutPercent changes a known feature's rollout.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.rollout[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	return nil
}

func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// SetUserOverride pins a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.overrides[userID] == nil {
		ff.overrides[userID] = make(map[string]bool)
	}
	ff.overrides[userID][featureName] = enabled
}

func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, userID)
}

// GetAllFeatures returns a copy of every feature.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.rollout))
	for name, f := range ff.rollout {
		out[name] = *f
	}
	return out
}
