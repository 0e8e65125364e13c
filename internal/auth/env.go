package auth

import (
	"context"
	"errors"
	"os"
)

// ErrNoCredentials is returned when the environment carries no account.
var ErrNoCredentials = errors.New("no credentials: set AZDEV_ACCOUNT and AZDEV_PAT")

// EnvProvider reads credentials from the environment: AZDEV_ACCOUNT is the
// login, AZDEV_PAT a personal access token valid for every organization the
// saved searches reference. It stands in for a desktop account broker.
type EnvProvider struct {
	mediator *Mediator
	signedIn bool
}

// NewEnvProvider creates a provider that reports signed-in whenever both
// variables are set.
func NewEnvProvider(mediator *Mediator) *EnvProvider {
	p := &EnvProvider{mediator: mediator}
	p.signedIn = os.Getenv("AZDEV_ACCOUNT") != "" && os.Getenv("AZDEV_PAT") != ""
	return p
}

func (p *EnvProvider) IsSignedIn() bool {
	return p.signedIn
}

func (p *EnvProvider) DefaultAccount(_ context.Context) (*Account, error) {
	if !p.signedIn {
		return nil, ErrNoCredentials
	}
	return &Account{Login: os.Getenv("AZDEV_ACCOUNT")}, nil
}

// SignIn re-reads the environment and notifies subscribers.
func (p *EnvProvider) SignIn(ctx context.Context) (*Account, error) {
	p.signedIn = os.Getenv("AZDEV_ACCOUNT") != "" && os.Getenv("AZDEV_PAT") != ""
	acc, err := p.DefaultAccount(ctx)
	if err != nil {
		return nil, err
	}
	p.mediator.NotifySignIn(*acc)
	return acc, nil
}

// SignOut drops the session and notifies subscribers; the cache manager
// clears cached data in response.
func (p *EnvProvider) SignOut(ctx context.Context) error {
	acc, err := p.DefaultAccount(ctx)
	if err != nil {
		return err
	}
	p.signedIn = false
	p.mediator.NotifySignOut(*acc)
	return nil
}

// ConnectionToken hands back the PAT for any organization. Satisfies the
// connection pool's token source contract.
func (p *EnvProvider) ConnectionToken(_ context.Context, _, _ string) (string, error) {
	token := os.Getenv("AZDEV_PAT")
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}
