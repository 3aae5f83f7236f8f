package accrual

import (
	"sort"
	"sync"
	"time"

	"github.com/warp/reward-engine/ledger"
)

// VoiceSession is one user's presence in a voice channel.
type VoiceSession struct {
	UserID   ledger.UserID
	Channel  string
	JoinedAt time.Time
}

// VoiceSessions is the registry of users currently in voice. The scheduled
// voice tick walks it and runs TryAccrue(voice) for each session.
type VoiceSessions struct {
	mu       sync.Mutex
	sessions map[ledger.UserID]VoiceSession
}

func NewVoiceSessions() *VoiceSessions {
	return &VoiceSessions{sessions: make(map[ledger.UserID]VoiceSession)}
}

// Join records a user entering a channel. Moving between channels keeps
// the original join time. Returns false if the user was already present.
func (v *VoiceSessions) Join(userID ledger.UserID, channel string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.sessions[userID]; ok {
		s.Channel = channel
		v.sessions[userID] = s
		return false
	}
	v.sessions[userID] = VoiceSession{UserID: userID, Channel: channel, JoinedAt: now}
	return true
}

// Leave removes a user and reports how long they stayed.
func (v *VoiceSessions) Leave(userID ledger.UserID, now time.Time) (VoiceSession, time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[userID]
	if !ok {
		return VoiceSession{}, 0, false
	}
	delete(v.sessions, userID)
	return s, now.Sub(s.JoinedAt), true
}

// Active returns a copy of every session, ordered by user id.
func (v *VoiceSessions) Active() []VoiceSession {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]VoiceSession, 0, len(v.sessions))
	for _, s := range v.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Remap moves a session from one user id to another (account merge).
func (v *VoiceSessions) Remap(from, to ledger.UserID) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[from]
	if !ok {
		return
	}
	delete(v.sessions, from)
	if _, exists := v.sessions[to]; exists {
		return
	}
	s.UserID = to
	v.sessions[to] = s
}
