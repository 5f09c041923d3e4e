package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.PushAllowed("u1"))
	assert.True(t, ff.EmailAllowed("u1"))
	assert.True(t, ff.IsEnabled(FeatureBatchPrefilter, ""))
	assert.False(t, ff.IsEnabled(FeatureAMQPIntake, ""))
	assert.False(t, ff.IsEnabled("does.not.exist", "u1"))
}

func TestFeatureFlags_NilAllowsEverything(t *testing.T) {
	var ff *FeatureFlags
	assert.True(t, ff.PushAllowed("u1"))
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_CHANNEL_PUSH", "false")
	t.Setenv("FEATURE_INTAKE_AMQP", "true")
	t.Setenv("FEATURE_CHANNEL_EMAIL", "30")

	ff := LoadFeatureFlags()
	assert.False(t, ff.PushAllowed("u1"))
	assert.True(t, ff.IsEnabled(FeatureAMQPIntake, ""))

	all := ff.GetAllFeatures()
	assert.Equal(t, 30, all[FeatureEmailChannel].RolloutPercent)
	assert.False(t, ff.EmailAllowed(""), "partial rollout is off for anonymous checks")
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureEmailChannel, 50))

	enabled := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		first := ff.EmailAllowed(id)
		assert.Equal(t, first, ff.EmailAllowed(id))
		if first {
			enabled++
		}
	}
	assert.InDelta(t, 500, enabled, 100)
}

func TestFeatureFlags_UserOverrides(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeaturePushChannel))

	ff.SetUserOverride("beta", FeaturePushChannel, true)
	assert.True(t, ff.PushAllowed("beta"))
	assert.False(t, ff.PushAllowed("other"))

	ff.ClearUserOverrides("beta")
	assert.False(t, ff.PushAllowed("beta"))
}

func TestFeatureFlags_Errors(t *testing.T) {
	ff := NewFeatureFlags()
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeaturePushChannel, 101), ErrInvalidRolloutPercent)
	assert.True(t, ff.PushAllowed("u1"), "failed update leaves the flag unchanged")
}

func TestFeatureFlags_OverrideIgnoredForAnonymousCheck(t *testing.T) {
	ff := NewFeatureFlags()
	ff.SetUserOverride("", FeatureAMQPIntake, true)
	assert.False(t, ff.IsEnabled(FeatureAMQPIntake, ""))
}
