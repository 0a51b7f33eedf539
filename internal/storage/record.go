package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/mcoot/outlier/internal/model"
)

// Field names a session field that can be patched
type Field string

const (
	FieldStatus         Field = "status"
	FieldParticipants   Field = "participants"
	FieldCategoryName   Field = "currentCategoryName"
	FieldSecretWord     Field = "currentSecretWord"
	FieldWordBank       Field = "categoryWordBank"
	FieldOutlierID      Field = "outlierId"
	FieldRevealWordBank Field = "revealWordBank"
	FieldUpdatedAt      Field = "updatedAt"
)

// Immutable fields, written once on create
const (
	fieldID        = "id"
	fieldJoinCode  = "joinCode"
	fieldCreatedAt = "createdAt"
	fieldVersion   = "version"
)

// RoundFields are present only while a round is being played
var RoundFields = []Field{
	FieldCategoryName,
	FieldSecretWord,
	FieldWordBank,
	FieldOutlierID,
	FieldRevealWordBank,
}

// Record is the stored form of a session: one JSON value per field name.
// A field missing from the map is unset, which is distinct from a field
// holding an empty value.
type Record map[string]string

// EncodeSession converts a session into a record. Round fields are only
// written while the session is playing.
func EncodeSession(s *model.Session) (Record, error) {
	rec := Record{}
	participants := s.Participants
	if participants == nil {
		participants = []model.Participant{}
	}

	values := map[string]any{
		fieldID:                   s.ID,
		fieldJoinCode:             s.JoinCode,
		fieldCreatedAt:            s.CreatedAt,
		fieldVersion:              s.Version,
		string(FieldStatus):       s.Status,
		string(FieldParticipants): participants,
		string(FieldUpdatedAt):    s.UpdatedAt,
	}
	if s.Status == model.SessionStatusPlaying {
		values[string(FieldCategoryName)] = s.CurrentCategoryName
		values[string(FieldSecretWord)] = s.CurrentSecretWord
		values[string(FieldWordBank)] = s.CategoryWordBank
		values[string(FieldOutlierID)] = s.OutlierID
		values[string(FieldRevealWordBank)] = s.RevealWordBank
	}

	for name, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		rec[name] = string(data)
	}
	return rec, nil
}

// DecodeSession converts a record back into a session. Unset fields decode
// to their zero value.
func DecodeSession(rec Record) (*model.Session, error) {
	s := &model.Session{}
	targets := map[string]any{
		fieldID:                     &s.ID,
		fieldJoinCode:               &s.JoinCode,
		fieldCreatedAt:              &s.CreatedAt,
		fieldVersion:                &s.Version,
		string(FieldStatus):         &s.Status,
		string(FieldParticipants):   &s.Participants,
		string(FieldUpdatedAt):      &s.UpdatedAt,
		string(FieldCategoryName):   &s.CurrentCategoryName,
		string(FieldSecretWord):     &s.CurrentSecretWord,
		string(FieldWordBank):       &s.CategoryWordBank,
		string(FieldOutlierID):      &s.OutlierID,
		string(FieldRevealWordBank): &s.RevealWordBank,
	}

	for name, target := range targets {
		raw, ok := rec[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	if s.Participants == nil {
		s.Participants = []model.Participant{}
	}
	return s, nil
}

// Has reports whether the field is present in the record
func (r Record) Has(f Field) bool {
	_, ok := r[string(f)]
	return ok
}

// Version returns the record's stored version
func (r Record) Version() (uint64, error) {
	raw, ok := r[fieldVersion]
	if !ok {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// Apply returns a copy of the record with the patch merged in and the
// version set to version.
func (r Record) Apply(p *Patch, version uint64) (Record, error) {
	sets, unsets, err := p.Encode()
	if err != nil {
		return nil, err
	}

	next := maps.Clone(r)
	maps.Copy(next, sets)
	for _, name := range unsets {
		delete(next, name)
	}
	next[fieldVersion] = strconv.FormatUint(version, 10)
	return next, nil
}

// Diff returns the fields whose values differ in next and the fields
// present in r but missing from next.
func (r Record) Diff(next Record) (map[string]string, []string) {
	changed := make(map[string]string)
	for name, v := range next {
		if old, ok := r[name]; !ok || old != v {
			changed[name] = v
		}
	}
	var removed []string
	for name := range r {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	return changed, removed
}
