package room

import (
	"time"
)

type rateState struct {
	count   int
	resetAt time.Time
}

// rateLimiter is a fixed-window counter keyed by user id. It is owned by
// a single room actor and must not be shared; the actor's serialized
// event handling is its only synchronization. State is never persisted,
// so a restart fails open.
type rateLimiter struct {
	limit  int
	window time.Duration
	users  map[string]*rateState
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		users:  make(map[string]*rateState),
	}
}

// allow counts one event for the user and reports whether it is within
// the window's limit.
func (l *rateLimiter) allow(userID string, now time.Time) bool {
	state, ok := l.users[userID]
	if !ok {
		state = &rateState{resetAt: now.Add(l.window)}
		l.users[userID] = state
	}

	if now.After(state.resetAt) {
		state.count = 0
		state.resetAt = now.Add(l.window)
	}

	state.count++
	return state.count <= l.limit
}
