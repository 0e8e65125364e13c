package azdo

import (
	"context"
	"strings"
	"sync"

	"github.com/devpane/azdev/internal/debug"
)

// TokenSource yields a bearer connection token for an organization. The
// credential acquisition protocol behind it is out of scope; the broker is
// assumed to hand back a ready-to-use token.
type TokenSource interface {
	ConnectionToken(ctx context.Context, organizationURL, account string) (string, error)
}

// Connection is an authenticated link to one organization for one account.
type Connection struct {
	OrganizationURL string
	Account         string
	Client          LiveClient
}

// ConnectionPool caches connections keyed by (organizationURL, account) so
// updaters reuse authenticated clients across sync cycles.
type ConnectionPool struct {
	mu     sync.Mutex
	tokens TokenSource
	conns  map[string]*Connection

	// newClient is a seam for tests; production uses NewClient.
	newClient func(organizationURL, token string) LiveClient
}

// NewConnectionPool creates an empty pool backed by the given token source.
func NewConnectionPool(tokens TokenSource) *ConnectionPool {
	return &ConnectionPool{
		tokens: tokens,
		conns:  make(map[string]*Connection),
		newClient: func(organizationURL, token string) LiveClient {
			return NewClient(organizationURL, token)
		},
	}
}

// SetClientFactory overrides client construction. Tests inject fakes here.
func (p *ConnectionPool) SetClientFactory(f func(organizationURL, token string) LiveClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newClient = f
}

// Get returns the pooled connection for (organizationURL, account), creating
// and authenticating one on first use.
func (p *ConnectionPool) Get(ctx context.Context, organizationURL, account string) (*Connection, error) {
	key := strings.ToLower(strings.TrimSuffix(organizationURL, "/")) + "|" + strings.ToLower(account)

	p.mu.Lock()
	if conn, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	factory := p.newClient
	p.mu.Unlock()

	token, err := p.tokens.ConnectionToken(ctx, organizationURL, account)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		OrganizationURL: strings.TrimSuffix(organizationURL, "/"),
		Account:         account,
		Client:          factory(organizationURL, token),
	}

	p.mu.Lock()
	// Another goroutine may have raced us; keep the first one in.
	if existing, ok := p.conns[key]; ok {
		conn = existing
	} else {
		p.conns[key] = conn
		debug.Logf("azdo: new connection for %s", key)
	}
	p.mu.Unlock()

	return conn, nil
}

// Reset drops every pooled connection. Called on sign-out so stale tokens
// are never reused.
func (p *ConnectionPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = make(map[string]*Connection)
}
