package response

import (
	"encoding/json"
	"time"

	"github.com/mcoot/outlier/internal/model"
)

// Participant represents a participant in API responses. IsOutlier is only
// set on the viewer's own entry.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	IsOutlier   *bool     `json:"is_outlier,omitempty"`
	IsReady     bool      `json:"is_ready"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Round is the current round as one viewer may see it
type Round struct {
	CategoryName   string   `json:"category_name"`
	SecretWord     string   `json:"secret_word,omitempty"`
	WordBank       []string `json:"word_bank,omitempty"`
	RevealWordBank bool     `json:"reveal_word_bank"`
}

// Session is a per-viewer view of a session
type Session struct {
	ID           string        `json:"id"`
	JoinCode     string        `json:"join_code"`
	Status       string        `json:"status"`
	Participants []Participant `json:"participants"`
	Round        *Round        `json:"round,omitempty"`
	Version      uint64        `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SessionFromModel builds the view of s for viewer. The secret word goes
// only to participants who are not the outlier, the word bank only to
// participants and only when the round reveals it, and nobody learns who
// the outlier is except the outlier.
func SessionFromModel(s *model.Session, viewer model.ParticipantID) Session {
	self := s.Participant(viewer)

	participants := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		rp := Participant{
			ID:          string(p.ID),
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			IsReady:     p.IsReady,
			JoinedAt:    p.JoinedAt,
		}
		if self != nil && p.ID == self.ID {
			isOutlier := p.IsOutlier
			rp.IsOutlier = &isOutlier
		}
		participants = append(participants, rp)
	}

	view := Session{
		ID:           string(s.ID),
		JoinCode:     string(s.JoinCode),
		Status:       string(s.Status),
		Participants: participants,
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}

	if s.Status == model.SessionStatusPlaying {
		round := &Round{
			CategoryName:   s.CurrentCategoryName,
			RevealWordBank: s.RevealWordBank,
		}
		if self != nil && !self.IsOutlier {
			round.SecretWord = s.CurrentSecretWord
		}
		if self != nil && s.RevealWordBank {
			round.WordBank = s.CategoryWordBank
		}
		view.Round = round
	}

	return view
}

// RenderSession encodes the view of s for viewer as JSON
func RenderSession(s *model.Session, viewer model.ParticipantID) ([]byte, error) {
	return json.Marshal(SessionFromModel(s, viewer))
}

// ToModel converts a view back into a session holding only what the viewer
// was shown. The result is not expected to satisfy the full invariants.
func (v Session) ToModel() *model.Session {
	s := &model.Session{
		ID:           model.SessionID(v.ID),
		JoinCode:     model.JoinCode(v.JoinCode),
		Status:       model.SessionStatus(v.Status),
		Participants: make([]model.Participant, 0, len(v.Participants)),
		Version:      v.Version,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	for _, p := range v.Participants {
		mp := model.Participant{
			ID:          model.ParticipantID(p.ID),
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			IsReady:     p.IsReady,
			JoinedAt:    p.JoinedAt,
		}
		if p.IsOutlier != nil && *p.IsOutlier {
			mp.IsOutlier = true
			s.OutlierID = mp.ID
		}
		s.Participants = append(s.Participants, mp)
	}
	if v.Round != nil {
		s.CurrentCategoryName = v.Round.CategoryName
		s.CurrentSecretWord = v.Round.SecretWord
		s.CategoryWordBank = v.Round.WordBank
		s.RevealWordBank = v.Round.RevealWordBank
	}
	return s
}

// JoinResponse is returned by create and join: the session plus the
// caller's new participant ID and the secret token that proves it
type JoinResponse struct {
	Session          Session `json:"session"`
	ParticipantID    string  `json:"participant_id"`
	ParticipantToken string  `json:"participant_token"`
}

// Category is a category with its word list
type Category struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

// CategoryFromModel converts model.Category
func CategoryFromModel(c model.Category) Category {
	return Category{Name: c.Name, Words: c.Words}
}

// CategoryList lists the static category names
type CategoryList struct {
	Categories []string `json:"categories"`
}

// Health is the health check response
type Health struct {
	Status string `json:"status"`
}
