package redis

import "fmt"

// Key layout shared with collaborating services. These formats are part of
// the external contract and must not drift.
const gamePrefix = "mathquest:game:"

// timerKey derives the storage key for a question's clock. Deferred
// tournament replays embed the user id so each replaying user gets a private
// clock; every other combination shares one key per (session, question).
func timerKey(accessCode, questionUID, userID string, deferred bool) string {
	if deferred && userID != "" {
		return fmt.Sprintf("timer:%s:%s:user:%s", accessCode, questionUID, userID)
	}
	return fmt.Sprintf("timer:%s:%s", accessCode, questionUID)
}

func gameStateKey(accessCode string) string {
	return gamePrefix + "gameState:" + accessCode
}

func participantsKey(accessCode string) string {
	return gamePrefix + "participants:" + accessCode
}

func leaderboardKey(accessCode string) string {
	return gamePrefix + "leaderboard:" + accessCode
}

func joinOrderKey(accessCode string) string {
	return gamePrefix + "join_order:" + accessCode
}

func answersKey(accessCode, questionUID string) string {
	return gamePrefix + "answers:" + accessCode + ":" + questionUID
}

func roomKey(room string) string {
	return gamePrefix + "rooms:" + room
}

func socketToUserKey(accessCode string) string {
	return gamePrefix + "socketIdToUserId:" + accessCode
}

func userToSocketKey(accessCode string) string {
	return gamePrefix + "userIdToSocketId:" + accessCode
}

func deferredSessionKey(accessCode, userID string, attempt int) string {
	return fmt.Sprintf("%sdeferred_session:%s:%s:%d", gamePrefix, accessCode, userID, attempt)
}

func deferredSessionPattern(accessCode, userID string) string {
	return fmt.Sprintf("%sdeferred_session:%s:%s:*", gamePrefix, accessCode, userID)
}

func explanationSentKey(accessCode, userID string, attempt int) string {
	return fmt.Sprintf("%sexplanation_sent:%s:%s:%d", gamePrefix, accessCode, userID, attempt)
}

func instanceKey(accessCode string) string {
	return gamePrefix + "instance:" + accessCode
}

func snapshotKey(accessCode string) string {
	return "leaderboard:snapshot:" + accessCode
}

func projectionDisplayKey(accessCode string) string {
	return gamePrefix + "projection:display:" + accessCode
}
