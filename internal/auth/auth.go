// Package auth declares the account broker contract the sync core consumes
// and the mediator that fans out sign-in/sign-out notifications. The actual
// credential acquisition lives outside this repository.
package auth

import (
	"context"

	"github.com/devpane/azdev/internal/eventbus"
)

// Account identifies a signed-in user.
type Account struct {
	Login string // user principal name, e.g. dev@contoso.com
	ID    string // identity GUID, when known
}

// Provider is the account broker surface. Implementations emit SignedIn and
// SignedOut through the Mediator after the corresponding operation succeeds.
type Provider interface {
	IsSignedIn() bool
	DefaultAccount(ctx context.Context) (*Account, error)
	SignIn(ctx context.Context) (*Account, error)
	SignOut(ctx context.Context) error
}

// EventKind classifies auth notifications.
type EventKind string

const (
	SignedIn  EventKind = "signed-in"
	SignedOut EventKind = "signed-out"
)

// Event is a sign-in/sign-out notification.
type Event struct {
	Kind    EventKind
	Account Account
}

// Mediator fans auth events out to subscribers. The cache manager subscribes
// to trigger clear-cache on sign-out.
type Mediator struct {
	bus *eventbus.Bus[Event]
}

// NewMediator creates an empty mediator.
func NewMediator() *Mediator {
	return &Mediator{bus: eventbus.New[Event]()}
}

// Subscribe registers a handler; the returned function removes it.
func (m *Mediator) Subscribe(h func(Event)) (unsubscribe func()) {
	return m.bus.Subscribe(h)
}

// NotifySignIn publishes a SignedIn event.
func (m *Mediator) NotifySignIn(acc Account) {
	m.bus.Publish(Event{Kind: SignedIn, Account: acc})
}

// NotifySignOut publishes a SignedOut event.
func (m *Mediator) NotifySignOut(acc Account) {
	m.bus.Publish(Event{Kind: SignedOut, Account: acc})
}
