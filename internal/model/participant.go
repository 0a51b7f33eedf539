package model

import (
	"crypto/subtle"
	"time"
)

// ParticipantID identifies a participant within a session. It is public:
// every view lists it so participants can be named and kicked.
type ParticipantID string

// ParticipantToken is the secret a participant presents to act in a
// session. It is handed out once, on create or join, and never appears in
// any session view.
type ParticipantToken string

// Matches compares tokens in constant time. An empty token matches nothing.
func (t ParticipantToken) Matches(other ParticipantToken) bool {
	if t == "" || other == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t), []byte(other)) == 1
}

// Participant is one connected player in a session
type Participant struct {
	ID          ParticipantID    `json:"id"`
	Token       ParticipantToken `json:"token"`
	DisplayName string           `json:"displayName"`
	IsHost      bool             `json:"isHost"`
	IsOutlier   bool             `json:"isOutlier"`
	IsReady     bool             `json:"isReady"` // Always set on start, nothing gates on it
	JoinedAt    time.Time        `json:"joinedAt"`
}

// Credentials are what a client keeps to act as one participant
type Credentials struct {
	SessionID     SessionID        `json:"sessionId"`
	ParticipantID ParticipantID    `json:"participantId"`
	Token         ParticipantToken `json:"token"`
}
