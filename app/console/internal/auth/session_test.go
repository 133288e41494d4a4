package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	crdb "github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth/authtest"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, p *authtest.Provider, opener func(string) error, mutate ...func(*auth.Config)) (*auth.Session, *token.Store) {
	t.Helper()
	cfg := &auth.Config{
		Authority: p.URL,
		ClientID:  "interlock-console",
		Scopes:    []string{"openid", "offline_access"},
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	store := token.NewStore()
	s, err := auth.New(cfg, store, auth.WithOpener(opener))
	require.NoError(t, err)
	return s, store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := auth.New(&auth.Config{ClientID: "x"}, token.NewStore())
	assert.True(t, crdb.Is(err, auth.ErrInvalidConfig))
}

func TestAuthenticateInteractive(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()
	p.Configure(func(p *authtest.Provider) { p.Roles = []string{"Interlocking"} })

	s, store := newSession(t, p, p.Browser(""), func(c *auth.Config) { c.RequiredRole = "Interlocking" })
	tok, err := s.AuthenticateInteractive(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, tok.AccessToken)
	assert.True(t, tok.HasRefresh())
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
	assert.Equal(t, tok, store.Get())
	assert.Equal(t, 1, p.Exchanges())
}

func TestAuthenticateExpiryFromClaims(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()
	p.Configure(func(p *authtest.Provider) {
		p.OmitExpiresIn = true
		p.AccessTTL = 10 * time.Minute
	})

	s, _ := newSession(t, p, p.Browser(""))
	tok, err := s.AuthenticateInteractive(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), tok.ExpiresAt, 5*time.Second)
}

func TestAuthenticateDenied(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()

	s, store := newSession(t, p, p.Browser("access_denied"))
	_, err := s.AuthenticateInteractive(context.Background())
	assert.True(t, crdb.Is(err, auth.ErrDenied), "%v", err)
	assert.True(t, store.Get().IsZero())
}

func TestAuthenticateMissingRole(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()
	p.Configure(func(p *authtest.Provider) { p.Roles = []string{"Viewer"} })

	s, store := newSession(t, p, p.Browser(""), func(c *auth.Config) { c.RequiredRole = "Interlocking" })
	_, err := s.AuthenticateInteractive(context.Background())
	assert.True(t, crdb.Is(err, auth.ErrDenied), "%v", err)
	assert.True(t, store.Get().IsZero())
}

func TestAuthenticateCancelled(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()

	// 浏览器未回调
	s, _ := newSession(t, p, func(string) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.AuthenticateInteractive(ctx)
	assert.True(t, crdb.Is(err, auth.ErrCancelled), "%v", err)
	assert.Equal(t, "cancelled", auth.Kind(err))
}

func TestRefresh(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()

	s, store := newSession(t, p, p.Browser(""))
	rt := p.IssueRefreshToken()
	old := token.Token{AccessToken: "old", RefreshToken: rt, ExpiresAt: time.Now().Add(30 * time.Second)}
	store.Set(old)

	next, err := s.Refresh(context.Background(), old)
	require.NoError(t, err)
	assert.NotEqual(t, "old", next.AccessToken)
	assert.Equal(t, rt, next.RefreshToken)
	assert.True(t, next.ExpiresAt.After(old.ExpiresAt))
	assert.Equal(t, next, store.Get())
}

func TestRefreshErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		status int
		want   error
	}{
		{"invalid grant", "invalid_grant", 0, auth.ErrInvalidGrant},
		{"expired token", "expired_token", 0, auth.ErrInvalidGrant},
		{"unauthorized client", "unauthorized_client", http.StatusUnauthorized, auth.ErrDenied},
		{"server error", "server_error", http.StatusInternalServerError, auth.ErrServerFault},
		{"bare 503", "", http.StatusServiceUnavailable, auth.ErrServerFault},
		{"unknown code", "weird", 0, auth.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := authtest.NewProvider()
			defer p.Close()
			p.Configure(func(p *authtest.Provider) {
				p.RefreshError = tt.code
				p.RefreshStatus = tt.status
			})

			s, store := newSession(t, p, p.Browser(""))
			tok := token.Token{AccessToken: "a", RefreshToken: p.IssueRefreshToken()}
			store.Set(tok)

			_, err := s.Refresh(context.Background(), tok)
			require.Error(t, err)
			assert.True(t, crdb.Is(err, tt.want), "%v", err)
			assert.Equal(t, tok, store.Get())
		})
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()

	s, _ := newSession(t, p, p.Browser(""))
	_, err := s.Refresh(context.Background(), token.Token{AccessToken: "a"})
	assert.True(t, crdb.Is(err, auth.ErrInvalidGrant))
	assert.Zero(t, p.RefreshCalls())
}

func TestRefreshCollapsesConcurrentCalls(t *testing.T) {
	p := authtest.NewProvider()
	defer p.Close()
	p.Configure(func(p *authtest.Provider) { p.RefreshDelay = 100 * time.Millisecond })

	s, _ := newSession(t, p, p.Browser(""))
	tok := token.Token{AccessToken: "a", RefreshToken: p.IssueRefreshToken()}

	var wg sync.WaitGroup
	results := make([]token.Token, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, err := s.Refresh(context.Background(), tok)
			assert.NoError(t, err)
			results[i] = next
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, p.RefreshCalls())
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", auth.Kind(nil))
	assert.Equal(t, "error", auth.Kind(errors.New("x")))
	assert.Equal(t, "denied", auth.Kind(crdb.Mark(errors.New("x"), auth.ErrDenied)))
}
