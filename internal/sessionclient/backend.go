// Package sessionclient keeps one local participant attached to a session:
// it persists the identity, resumes it on startup and reconciles it against
// the updates it observes.
package sessionclient

import (
	"context"
	"errors"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/storage"
)

// Backend is the client's view of the session state machine. Every call
// after create or join presents the participant's credentials, so remote
// backends can authenticate the caller and return that caller's view.
type Backend interface {
	Create(ctx context.Context, displayName string) (*model.Session, model.Credentials, error)
	Join(ctx context.Context, joinCode string, displayName string) (*model.Session, model.Credentials, error)
	Get(ctx context.Context, caller model.Credentials) (*model.Session, error)
	Start(ctx context.Context, caller model.Credentials, opts session.StartOptions) (*model.Session, error)
	Restart(ctx context.Context, caller model.Credentials) (*model.Session, error)
	Leave(ctx context.Context, caller model.Credentials) error
	Kick(ctx context.Context, caller model.Credentials, target model.ParticipantID) (*model.Session, error)
	SetReady(ctx context.Context, caller model.Credentials, ready bool) (*model.Session, error)
	// Subscribe calls observer with every snapshot. ended is called at most
	// once if the subscription stops on its own, and never after the
	// returned unsubscribe has been called.
	Subscribe(ctx context.Context, caller model.Credentials, observer storage.Observer, ended func(error)) (func(), error)
}

// Local runs the state machine in-process
type Local struct {
	controller session.ControllerInterface
}

var _ Backend = (*Local)(nil)

// NewLocal creates a backend over an in-process controller
func NewLocal(controller session.ControllerInterface) *Local {
	return &Local{controller: controller}
}

func (l *Local) Create(ctx context.Context, displayName string) (*model.Session, model.Credentials, error) {
	s, pid, err := l.controller.Create(ctx, displayName)
	if err != nil {
		return nil, model.Credentials{}, err
	}
	return s, credentialsFor(s, pid), nil
}

func (l *Local) Join(ctx context.Context, joinCode string, displayName string) (*model.Session, model.Credentials, error) {
	s, pid, err := l.controller.Join(ctx, joinCode, displayName)
	if err != nil {
		return nil, model.Credentials{}, err
	}
	return s, credentialsFor(s, pid), nil
}

func (l *Local) Get(ctx context.Context, caller model.Credentials) (*model.Session, error) {
	return l.controller.Get(ctx, caller.SessionID)
}

func (l *Local) Start(ctx context.Context, caller model.Credentials, opts session.StartOptions) (*model.Session, error) {
	pid, err := l.authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	return l.controller.Start(ctx, caller.SessionID, pid, opts)
}

func (l *Local) Restart(ctx context.Context, caller model.Credentials) (*model.Session, error) {
	pid, err := l.authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	return l.controller.Restart(ctx, caller.SessionID, pid)
}

// Leave is a no-op when the session or the participant is already gone
func (l *Local) Leave(ctx context.Context, caller model.Credentials) error {
	pid, err := l.authenticate(ctx, caller)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidCredentials) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.controller.Leave(ctx, caller.SessionID, pid)
}

func (l *Local) Kick(ctx context.Context, caller model.Credentials, target model.ParticipantID) (*model.Session, error) {
	pid, err := l.authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	return l.controller.Kick(ctx, caller.SessionID, pid, target)
}

func (l *Local) SetReady(ctx context.Context, caller model.Credentials, ready bool) (*model.Session, error) {
	pid, err := l.authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	return l.controller.SetReady(ctx, caller.SessionID, pid, ready)
}

// Subscribe attaches to the store directly. A store subscription only ends
// when unsubscribed, so ended is never called.
func (l *Local) Subscribe(ctx context.Context, caller model.Credentials, observer storage.Observer, _ func(error)) (func(), error) {
	return l.controller.Subscribe(ctx, caller.SessionID, observer)
}

func (l *Local) authenticate(ctx context.Context, caller model.Credentials) (model.ParticipantID, error) {
	return l.controller.Authenticate(ctx, caller.SessionID, caller.Token)
}

func credentialsFor(s *model.Session, pid model.ParticipantID) model.Credentials {
	creds := model.Credentials{SessionID: s.ID, ParticipantID: pid}
	if p := s.Participant(pid); p != nil {
		creds.Token = p.Token
	}
	return creds
}
