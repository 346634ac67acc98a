package query

import (
	"context"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
)

// EarnedBadgeDTO is a badge a user owns, joined with its definition.
type EarnedBadgeDTO struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	EarnedAt    time.Time `json:"earned_at"`
}

// ListUserBadgesHandler lists earned badges, oldest first.
type ListUserBadgesHandler struct {
	catalog gamification.BadgeCatalog
	cache   gamification.StatsCache
	ttl     time.Duration
	log     *logger.Logger
}

// NewListUserBadgesHandler creates a new ListUserBadgesHandler. cache may be nil.
func NewListUserBadgesHandler(catalog gamification.BadgeCatalog, cache gamification.StatsCache, ttl time.Duration, log *logger.Logger) *ListUserBadgesHandler {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ListUserBadgesHandler{catalog: catalog, cache: cache, ttl: ttl, log: log.With(logger.Component("list_user_badges"))}
}

// Handle returns the badges of userID. Badges whose definition was removed
// keep their key as name.
func (h *ListUserBadgesHandler) Handle(ctx context.Context, userID string) ([]EarnedBadgeDTO, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	if h.cache != nil {
		var cached []EarnedBadgeDTO
		if found, err := h.cache.Get(ctx, gamification.CacheGroupBadges, userID, &cached); err == nil && found {
			return cached, nil
		}
	}

	owned, err := h.catalog.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_user_badges: %w", err)
	}
	defs, err := h.catalog.ListBadges(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list_user_badges: %w", err)
	}
	byKey := make(map[string]*gamification.BadgeDefinition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}

	out := make([]EarnedBadgeDTO, 0, len(owned))
	for _, b := range owned {
		dto := EarnedBadgeDTO{Key: b.BadgeKey, Name: b.BadgeKey, EarnedAt: b.EarnedAt}
		if d, ok := byKey[b.BadgeKey]; ok {
			dto.Name = d.Name
			dto.Description = d.Description
			dto.Category = d.Category
		}
		out = append(out, dto)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, gamification.CacheGroupBadges, userID, out, h.ttl); err != nil {
			h.log.Debug("badge cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}
	return out, nil
}
