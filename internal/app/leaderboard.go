package app

import (
	"context"

	"mathquest-live-service/internal/domain"
)

// leaderboardTopN bounds what the player room sees; the projection and
// dashboard always get the full standings.
const leaderboardTopN = 20

// broadcastLeaderboard recomputes the standings and fans them out to the
// three audiences. Callers must only invoke this once the active question's
// timer has elapsed; mid-question submissions never trigger it.
func (c *Controller) broadcastLeaderboard(ctx context.Context, game domain.GameInstance, accessCode string) error {
	entries, err := c.leaderboard.Calculate(ctx, accessCode)
	if err != nil {
		return err
	}

	top := entries
	if len(top) > leaderboardTopN {
		top = top[:leaderboardTopN]
	}

	c.bus.Emit(GameRoom(accessCode), EventLeaderboardUpdate, map[string]any{
		"leaderboard": top,
	})
	c.bus.Emit(ProjectionRoom(game.ID), EventProjectionLeaderboardUpdate, map[string]any{
		"leaderboard": entries,
	})
	c.bus.Emit(DashboardRoom(game.ID), EventDashboardLeaderboardUpdate, map[string]any{
		"leaderboard": entries,
	})
	return nil
}
