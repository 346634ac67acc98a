package config

import (
	"errors"
	"hash/crc32"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Feature names checked by the engine.
const (
	FeatureNotifyBadgeEarned     = "notify.badge_earned"
	FeatureNotifyFocusCompleted  = "notify.focus_completed"
	FeatureGamificationShields   = "gamification.streak_shields"
	FeatureGamificationBadges    = "gamification.badges"
	FeatureCurriculumBadges      = "curriculum.badges"
	FeatureCurriculumPlaceholder = "curriculum.placeholder_items"
)

var (
	ErrFeatureNotFound       = errors.New("feature flags: unknown feature")
	ErrInvalidRolloutPercent = errors.New("feature flags: rollout percent must be 0-100")
)

// defaultRollout is the rollout percent of every known feature.
var defaultRollout = map[string]int{
	FeatureNotifyBadgeEarned:     100,
	FeatureNotifyFocusCompleted:  0,
	FeatureGamificationShields:   100,
	FeatureGamificationBadges:    100,
	FeatureCurriculumBadges:      100,
	FeatureCurriculumPlaceholder: 100,
}

type override struct {
	userID, feature string
}

// FeatureFlags maps each feature to a rollout percent. A user falls in the
// rollout when crc32(feature|user) % 100 is below it, so the answer for a
// user is stable across restarts. Per-user overrides win over the rollout.
// A nil *FeatureFlags reports every feature as off.
type FeatureFlags struct {
	mu        sync.RWMutex
	rollout   map[string]int
	overrides map[override]bool
}

func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		rollout:   make(map[string]int, len(defaultRollout)),
		overrides: make(map[override]bool),
	}
	for name, pct := range defaultRollout {
		ff.rollout[name] = pct
	}
	return ff
}

// LoadFeatureFlags reads FEATURE_<NAME> from the environment for every
// known feature. Accepted values are booleans and percentages; anything
// else keeps the default. FEATURE_CURRICULUM_BADGES=25 turns curriculum
// badges on for a quarter of users.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags()
	for name := range ff.rollout {
		key := "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
		_ = v.BindEnv(key)
		if pct, ok := parseRollout(v.GetString(key)); ok {
			ff.rollout[name] = pct
		}
	}
	return ff
}

func parseRollout(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if on, err := strconv.ParseBool(raw); err == nil {
		if on {
			return 100, true
		}
		return 0, true
	}
	pct, err := strconv.Atoi(raw)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// IsEnabled reports whether feature is on for userID. With an empty userID
// any rollout above zero counts as on.
func (ff *FeatureFlags) IsEnabled(feature, userID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[override{userID, feature}]; ok && userID != "" {
		return on
	}
	pct := ff.rollout[feature]
	switch {
	case pct <= 0:
		return false
	case pct >= 100 || userID == "":
		return true
	}
	return int(crc32.ChecksumIEEE([]byte(feature+"|"+userID))%100) < pct
}

// SetUserOverride pins feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, feature string, on bool) {
	ff.mu.Lock()
	ff.overrides[override{userID, feature}] = on
	ff.mu.Unlock()
}

func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	for k := range ff.overrides {
		if k.userID == userID {
			delete(ff.overrides, k)
		}
	}
}

func (ff *FeatureFlags) SetRolloutPercent(feature string, pct int) error {
	if pct < 0 || pct > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.rollout[feature]; !ok {
		return ErrFeatureNotFound
	}
	ff.rollout[feature] = pct
	return nil
}

func (ff *FeatureFlags) DisableFeature(feature string) error { return ff.SetRolloutPercent(feature, 0) }

// Names lists the known features in order.
func (ff *FeatureFlags) Names() []string {
	if ff == nil {
		return nil
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	names := make([]string, 0, len(ff.rollout))
	for name := range ff.rollout {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
