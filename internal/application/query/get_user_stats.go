// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STATS QUERY
// Reads the stats aggregate through the advisory cache. Concurrent misses for
// the same user share one store read.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultStatsTTL is used when no TTL is configured.
const DefaultStatsTTL = 5 * time.Minute

// UserStatsDTO is the stats aggregate plus level progress.
type UserStatsDTO struct {
	Stats gamification.UserStats `json:"stats"`

	// XPToNextLevel is the XP still missing for the next level.
	XPToNextLevel int `json:"xp_to_next_level"`

	// LevelProgress is the progress through the current level (0.0 - 1.0).
	LevelProgress float64 `json:"level_progress"`

	// Exists is false for a user with no recorded activity yet.
	Exists bool `json:"exists"`
}

// GetUserStatsHandler handles stats reads.
type GetUserStatsHandler struct {
	stats gamification.StatsRepository
	cache gamification.StatsCache
	ttl   time.Duration
	clock timeutil.Clock
	log   *logger.Logger
	group singleflight.Group
}

// NewGetUserStatsHandler creates a new GetUserStatsHandler. cache may be nil.
func NewGetUserStatsHandler(stats gamification.StatsRepository, cache gamification.StatsCache, ttl time.Duration, clock timeutil.Clock, log *logger.Logger) *GetUserStatsHandler {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetUserStatsHandler{
		stats: stats,
		cache: cache,
		ttl:   ttl,
		clock: clock,
		log:   log.With(logger.Component("get_user_stats")),
	}
}

// Handle returns the stats of userID. A user without stats gets fresh
// level-1 stats that are not persisted.
func (h *GetUserStatsHandler) Handle(ctx context.Context, userID string) (*UserStatsDTO, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	if h.cache != nil {
		var cached UserStatsDTO
		found, err := h.cache.Get(ctx, gamification.CacheGroupStats, userID, &cached)
		if err != nil {
			h.log.Debug("stats cache read failed", logger.UserID(userID), logger.Err(err))
		} else if found {
			return &cached, nil
		}
	}

	v, err, _ := h.group.Do(userID, func() (interface{}, error) {
		return h.load(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	dto := *v.(*UserStatsDTO)
	return &dto, nil
}

func (h *GetUserStatsHandler) load(ctx context.Context, userID string) (*UserStatsDTO, error) {
	stats, err := h.stats.Get(ctx, userID)
	exists := true
	switch {
	case errors.Is(err, shared.ErrNotFound):
		stats = gamification.NewUserStats(userID, h.clock.Now())
		exists = false
	case err != nil:
		return nil, fmt.Errorf("get_user_stats: %w", err)
	}

	dto := newUserStatsDTO(stats, exists)
	if h.cache != nil && exists {
		if err := h.cache.Set(ctx, gamification.CacheGroupStats, userID, dto, h.ttl); err != nil {
			h.log.Debug("stats cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}
	return dto, nil
}

func newUserStatsDTO(stats *gamification.UserStats, exists bool) *UserStatsDTO {
	floor := gamification.XPForLevel(stats.CurrentLevel)
	next := gamification.XPForLevel(stats.CurrentLevel + 1)

	dto := &UserStatsDTO{Stats: *stats, Exists: exists}
	if span := next - floor; span > 0 {
		dto.XPToNextLevel = next - stats.TotalXP
		if dto.XPToNextLevel < 0 {
			dto.XPToNextLevel = 0
		}
		dto.LevelProgress = float64(stats.TotalXP-floor) / float64(span)
		if dto.LevelProgress < 0 {
			dto.LevelProgress = 0
		}
		if dto.LevelProgress > 1 {
			dto.LevelProgress = 1
		}
	}
	return dto
}
