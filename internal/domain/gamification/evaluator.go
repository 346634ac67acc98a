package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/pkg/logger"
)

const sessionPageSize = 200

// Evaluator awards badges by folding over the catalog in order. Each award
// updates the stats snapshot before the next definition is checked, so a
// badge whose reward crosses a threshold can unlock a later badge in the
// same pass. Callers serialize evaluation per user.
type Evaluator struct {
	catalog  BadgeCatalog
	sessions SessionRepository
	rewarder *Rewarder
	rules    BadgeRules
	loc      *time.Location
	log      *logger.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(catalog BadgeCatalog, sessions SessionRepository, rewarder *Rewarder, rules BadgeRules, loc *time.Location, log *logger.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{
		catalog:  catalog,
		sessions: sessions,
		rewarder: rewarder,
		rules:    rules,
		loc:      loc,
		log:      log.With(logger.Component("badge_evaluator")),
	}
}

// EvaluateAndAward checks every active, unearned badge against stats and
// awards the ones that qualify. stats is mutated in place. Curriculum
// criteria only qualify when facts is non-nil.
//
// Only catalog reads fail the pass. A failed award or reward is logged and
// the fold moves on to the next definition.
func (e *Evaluator) EvaluateAndAward(ctx context.Context, stats *UserStats, facts *CurriculumFacts, at time.Time) ([]AwardedBadge, error) {
	defs, err := e.catalog.ListBadges(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}

	owned, err := e.catalog.ListUserBadges(ctx, stats.UserID)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	earned := make(map[string]bool, len(owned))
	for _, b := range owned {
		earned[b.BadgeKey] = true
	}

	snap := Snapshot{Stats: stats, Curriculum: facts}
	sessionsLoaded := false
	sessionsFailed := false

	var awarded []AwardedBadge
	for _, def := range defs {
		if earned[def.Key] || !def.Active {
			continue
		}

		if def.CriteriaType.NeedsSessions() {
			if !sessionsLoaded {
				snap.Sessions, err = e.loadSessions(ctx, stats.UserID)
				sessionsLoaded = true
				if err != nil {
					sessionsFailed = true
					e.log.Warn("session history unavailable, skipping session badges",
						logger.UserID(stats.UserID), logger.Err(err))
				}
			}
			if sessionsFailed {
				continue
			}
		}

		if !e.rules.Qualifies(def, snap, e.loc) {
			continue
		}

		inserted, err := e.catalog.AwardBadge(ctx, stats.UserID, def.Key, at)
		if err != nil {
			e.log.Warn("failed to award badge",
				logger.UserID(stats.UserID), logger.BadgeKey(def.Key), logger.Err(err))
			continue
		}
		earned[def.Key] = true
		if !inserted {
			continue
		}
		stats.BadgesEarned++

		award := AwardedBadge{Badge: *def, EarnedAt: at}
		res, err := e.rewarder.Grant(ctx, stats, Reward{
			XP:          def.XPReward,
			Gems:        def.GemReward,
			Source:      BadgeSource(def.Key),
			Description: "Badge earned: " + def.Name,
		}, at)
		if err != nil {
			e.log.Warn("badge gems not granted",
				logger.UserID(stats.UserID), logger.BadgeKey(def.Key), logger.GemsAmount(def.GemReward), logger.Err(err))
			award.LevelChange = stats.AddXP(def.XPReward)
		} else {
			award.LevelChange = res.LevelChange
			award.GemsGranted = res.GemsGranted
		}

		e.log.Info("badge awarded",
			logger.UserID(stats.UserID), logger.BadgeKey(def.Key), logger.XPAmount(def.XPReward))
		awarded = append(awarded, award)
	}

	return awarded, nil
}

func (e *Evaluator) loadSessions(ctx context.Context, userID string) ([]*PracticeSession, error) {
	var all []*PracticeSession
	for offset := 0; ; offset += sessionPageSize {
		page, err := e.sessions.ListSessions(ctx, userID, sessionPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < sessionPageSize {
			return all, nil
		}
	}
}
