package session

import (
	"slices"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

// Transitions are pure: they read a session and describe the write as a
// patch. A nil patch means there is nothing to write.

func addParticipant(s *model.Session, p model.Participant) *storage.Patch {
	participants := append(slices.Clone(s.Participants), p)
	return storage.NewPatch().Set(storage.FieldParticipants, participants)
}

// startRound assigns the outlier and secret word and moves to playing
func startRound(s *model.Session, c model.Category, outlierIdx, wordIdx int, reveal bool) *storage.Patch {
	participants := slices.Clone(s.Participants)
	for i := range participants {
		participants[i].IsOutlier = i == outlierIdx
		participants[i].IsReady = true
	}

	return storage.NewPatch().
		Set(storage.FieldStatus, model.SessionStatusPlaying).
		Set(storage.FieldParticipants, participants).
		Set(storage.FieldCategoryName, c.Name).
		Set(storage.FieldSecretWord, c.Words[wordIdx]).
		Set(storage.FieldWordBank, c.Words).
		Set(storage.FieldOutlierID, participants[outlierIdx].ID).
		Set(storage.FieldRevealWordBank, reveal)
}

// resetRound returns the session to waiting with round state cleared
func resetRound(s *model.Session) *storage.Patch {
	if s.Status == model.SessionStatusWaiting && !hasRoundFlags(s.Participants) {
		return nil
	}
	return waitingPatch(clearRoundFlags(s.Participants))
}

// removeParticipant drops id from the session, promoting a new host and
// aborting the round as needed
func removeParticipant(s *model.Session, id model.ParticipantID) *storage.Patch {
	leaving := s.Participant(id)
	if leaving == nil {
		return nil
	}

	remaining := slices.DeleteFunc(slices.Clone(s.Participants), func(p model.Participant) bool {
		return p.ID == id
	})

	if len(remaining) == 0 {
		patch := storage.NewPatch().
			Set(storage.FieldStatus, model.SessionStatusEnded).
			Set(storage.FieldParticipants, []model.Participant{})
		return unsetRoundFields(patch)
	}

	if leaving.IsHost {
		remaining[0].IsHost = true
	}

	// A round cannot continue without its outlier or below the minimum
	if s.Status == model.SessionStatusPlaying &&
		(leaving.IsOutlier || len(remaining) < model.MinParticipants) {
		return waitingPatch(clearRoundFlags(remaining))
	}

	return storage.NewPatch().Set(storage.FieldParticipants, remaining)
}

func setReady(s *model.Session, id model.ParticipantID, ready bool) *storage.Patch {
	participants := slices.Clone(s.Participants)
	for i := range participants {
		if participants[i].ID == id {
			if participants[i].IsReady == ready {
				return nil
			}
			participants[i].IsReady = ready
		}
	}
	return storage.NewPatch().Set(storage.FieldParticipants, participants)
}

func waitingPatch(participants []model.Participant) *storage.Patch {
	patch := storage.NewPatch().
		Set(storage.FieldStatus, model.SessionStatusWaiting).
		Set(storage.FieldParticipants, participants)
	return unsetRoundFields(patch)
}

func unsetRoundFields(patch *storage.Patch) *storage.Patch {
	for _, f := range storage.RoundFields {
		patch.Unset(f)
	}
	return patch
}

func clearRoundFlags(participants []model.Participant) []model.Participant {
	out := slices.Clone(participants)
	for i := range out {
		out[i].IsOutlier = false
		out[i].IsReady = false
	}
	return out
}

func hasRoundFlags(participants []model.Participant) bool {
	return slices.ContainsFunc(participants, func(p model.Participant) bool {
		return p.IsOutlier || p.IsReady
	})
}
