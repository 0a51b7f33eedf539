package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

func participants(ids ...model.ParticipantID) []model.Participant {
	out := make([]model.Participant, len(ids))
	for i, id := range ids {
		out[i] = model.Participant{ID: id, DisplayName: string(id), IsHost: i == 0}
	}
	return out
}

func TestRemoveParticipant(t *testing.T) {
	tests := []struct {
		name         string
		status       model.SessionStatus
		outlier      model.ParticipantID
		remove       model.ParticipantID
		wantNil      bool
		wantStatus   model.SessionStatus
		wantHost     model.ParticipantID
		wantCount    int
		wantUnsetsWB bool
	}{
		{
			name:       "non-host leaves while waiting",
			status:     model.SessionStatusWaiting,
			remove:     "b",
			wantStatus: model.SessionStatusWaiting,
			wantHost:   "a",
			wantCount:  2,
		},
		{
			name:       "host leaves, first remaining promoted",
			status:     model.SessionStatusWaiting,
			remove:     "a",
			wantStatus: model.SessionStatusWaiting,
			wantHost:   "b",
			wantCount:  2,
		},
		{
			name:         "outlier leaves mid-round",
			status:       model.SessionStatusPlaying,
			outlier:      "c",
			remove:       "c",
			wantStatus:   model.SessionStatusWaiting,
			wantHost:     "a",
			wantCount:    2,
			wantUnsetsWB: true,
		},
		{
			name:       "bystander leaves mid-round",
			status:     model.SessionStatusPlaying,
			outlier:    "c",
			remove:     "b",
			wantStatus: model.SessionStatusPlaying,
			wantHost:   "a",
			wantCount:  2,
		},
		{
			name:    "absent participant",
			status:  model.SessionStatusWaiting,
			remove:  "z",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &model.Session{Status: tt.status, Participants: participants("a", "b", "c")}
			if tt.outlier != "" {
				s.Participant(tt.outlier).IsOutlier = true
				s.OutlierID = tt.outlier
			}

			patch := removeParticipant(s, tt.remove)
			if tt.wantNil {
				assert.Nil(t, patch)
				return
			}

			if tt.wantStatus != tt.status {
				status, ok := patch.Value(storage.FieldStatus)
				assert.True(t, ok)
				assert.Equal(t, tt.wantStatus, status)
			} else {
				_, ok := patch.Value(storage.FieldStatus)
				assert.False(t, ok)
			}

			v, ok := patch.Value(storage.FieldParticipants)
			assert.True(t, ok)
			remaining := v.([]model.Participant)
			assert.Len(t, remaining, tt.wantCount)
			assert.Equal(t, tt.wantHost, remaining[0].ID)
			assert.True(t, remaining[0].IsHost)
			assert.Equal(t, tt.wantUnsetsWB, patch.Unsets(storage.FieldWordBank))

			// The input is not modified
			assert.Len(t, s.Participants, 3)
		})
	}
}

func TestRemoveLastParticipantEnds(t *testing.T) {
	s := &model.Session{Status: model.SessionStatusWaiting, Participants: participants("a")}

	patch := removeParticipant(s, "a")
	status, _ := patch.Value(storage.FieldStatus)
	assert.Equal(t, model.SessionStatusEnded, status)
	v, _ := patch.Value(storage.FieldParticipants)
	assert.Empty(t, v)
	for _, f := range storage.RoundFields {
		assert.True(t, patch.Unsets(f), f)
	}
}

func TestResetRoundSkipsCleanWaitingSession(t *testing.T) {
	s := &model.Session{Status: model.SessionStatusWaiting, Participants: participants("a", "b")}
	assert.Nil(t, resetRound(s))

	s.Participants[1].IsReady = true
	assert.NotNil(t, resetRound(s))
}

func TestStartRoundSetsFlags(t *testing.T) {
	s := &model.Session{Status: model.SessionStatusWaiting, Participants: participants("a", "b", "c")}
	c := model.Category{Name: "Animals", Words: []string{"Tiger", "Koala", "Panda"}}

	patch := startRound(s, c, 2, 1, false)

	word, _ := patch.Value(storage.FieldSecretWord)
	assert.Equal(t, "Koala", word)
	outlier, _ := patch.Value(storage.FieldOutlierID)
	assert.Equal(t, model.ParticipantID("c"), outlier)
	v, _ := patch.Value(storage.FieldParticipants)
	for _, p := range v.([]model.Participant) {
		assert.Equal(t, p.ID == "c", p.IsOutlier)
		assert.True(t, p.IsReady)
	}
	assert.False(t, s.Participants[2].IsOutlier)
}
