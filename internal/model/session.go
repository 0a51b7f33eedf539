package model

import (
	"fmt"
	"slices"
	"time"
)

// MinParticipants is the number of participants needed to start a round
const MinParticipants = 2

// SessionID uniquely identifies a session
type SessionID string

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "waiting" // Lobby open for join/start
	SessionStatusPlaying SessionStatus = "playing" // Round active, roles assigned
	SessionStatusEnded   SessionStatus = "ended"   // Terminal, last participant left
)

// Session is the shared record all participants of one game converge on
type Session struct {
	ID           SessionID     `json:"id"`
	JoinCode     JoinCode      `json:"joinCode"`
	Status       SessionStatus `json:"status"`
	Participants []Participant `json:"participants"`

	// Round fields, present only while Status is playing
	CurrentCategoryName string        `json:"currentCategoryName,omitempty"`
	CurrentSecretWord   string        `json:"currentSecretWord,omitempty"`
	CategoryWordBank    []string      `json:"categoryWordBank,omitempty"`
	OutlierID           ParticipantID `json:"outlierId,omitempty"`
	RevealWordBank      bool          `json:"revealWordBank,omitempty"`

	// Version increases by one on every successful store update
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Host returns the current host, or nil if the session is empty
func (s *Session) Host() *Participant {
	for i := range s.Participants {
		if s.Participants[i].IsHost {
			return &s.Participants[i]
		}
	}
	return nil
}

// Participant returns the participant with the given ID, or nil if absent
func (s *Session) Participant(id ParticipantID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// ParticipantByToken returns the participant holding token, or nil
func (s *Session) ParticipantByToken(token ParticipantToken) *Participant {
	for i := range s.Participants {
		if s.Participants[i].Token.Matches(token) {
			return &s.Participants[i]
		}
	}
	return nil
}

// IsHost reports whether id belongs to the current host
func (s *Session) IsHost(id ParticipantID) bool {
	host := s.Host()
	return host != nil && host.ID == id
}

// Outlier returns the participant flagged as outlier, or nil
func (s *Session) Outlier() *Participant {
	for i := range s.Participants {
		if s.Participants[i].IsOutlier {
			return &s.Participants[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = slices.Clone(s.Participants)
	c.CategoryWordBank = slices.Clone(s.CategoryWordBank)
	return &c
}

// CheckInvariants verifies the membership and round invariants every stored
// session must satisfy.
func (s *Session) CheckInvariants() error {
	seen := make(map[ParticipantID]bool, len(s.Participants))
	hosts, outliers := 0, 0
	for _, p := range s.Participants {
		if seen[p.ID] {
			return fmt.Errorf("duplicate participant id %q", p.ID)
		}
		seen[p.ID] = true
		if p.IsHost {
			hosts++
		}
		if p.IsOutlier {
			outliers++
		}
	}

	if len(s.Participants) == 0 {
		if s.Status != SessionStatusEnded {
			return fmt.Errorf("empty session must be ended, got %q", s.Status)
		}
	} else if hosts != 1 {
		return fmt.Errorf("expected exactly one host, got %d", hosts)
	}

	if s.Status == SessionStatusPlaying {
		if outliers != 1 {
			return fmt.Errorf("expected exactly one outlier while playing, got %d", outliers)
		}
		if o := s.Outlier(); o.ID != s.OutlierID {
			return fmt.Errorf("outlier flag on %q does not match outlier id %q", o.ID, s.OutlierID)
		}
		if !slices.Contains(s.CategoryWordBank, s.CurrentSecretWord) {
			return fmt.Errorf("secret word %q is not in the word bank", s.CurrentSecretWord)
		}
	} else if outliers != 0 {
		return fmt.Errorf("no outlier expected while %s, got %d", s.Status, outliers)
	}

	return nil
}
