package reconnect_test

import (
	"context"
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth/authtest"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/reconnect"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/hub"
	"github.com/lk2023060901/xdooria-interlock/pkg/hub/hubtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	provider *authtest.Provider
	server   *hubtest.Server
	store    *token.Store
	remote   *remote.Session
	coord    *reconnect.Coordinator
	lost     chan error
}

func newFixture(t *testing.T, expiresIn time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		provider: authtest.NewProvider(),
		server:   hubtest.NewServer(),
		store:    token.NewStore(),
		lost:     make(chan error, 1),
	}
	t.Cleanup(f.provider.Close)
	t.Cleanup(f.server.Close)

	f.server.Handle(remote.SetPhysicalLeverData, func(p hub.Payload) (any, error) {
		var in model.LeverData
		err := p.Decode(&in)
		return in, err
	})
	f.store.Set(token.Token{
		AccessToken:  "current",
		RefreshToken: f.provider.IssueRefreshToken(),
		ExpiresAt:    time.Now().Add(expiresIn),
	})

	as, err := auth.New(&auth.Config{Authority: f.provider.URL, ClientID: "interlock-console"}, f.store,
		auth.WithOpener(f.provider.Browser("")))
	require.NoError(t, err)

	rcfg := remote.DefaultConfig()
	rcfg.Hub.Address = f.server.Address()
	f.remote, err = remote.New(rcfg, f.store, remote.WithOnLost(func(err error) { f.lost <- err }))
	require.NoError(t, err)
	t.Cleanup(func() { f.remote.DisposeAndStop(context.Background()) })

	f.coord, err = reconnect.New(&reconnect.Config{Margin: time.Minute, Interval: 10 * time.Millisecond},
		f.store, f.remote, as)
	require.NoError(t, err)
	return f
}

// connectThenDrop 建立连接后由服务端异常断开
func (f *fixture) connectThenDrop(t *testing.T) {
	t.Helper()
	require.NoError(t, f.remote.Initialize(f.store.Get()))
	actionNeeded, err := f.remote.ConnectAndWaitReady(context.Background())
	require.NoError(t, err)
	require.False(t, actionNeeded)
	require.Eventually(t, func() bool { return f.server.ActiveConns() == 1 }, time.Second, 10*time.Millisecond)

	f.server.Drop()
	select {
	case <-f.lost:
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
	require.Equal(t, remote.StateReconnecting, f.remote.State())
}

func TestExpiringTokenRefreshesAndRebuilds(t *testing.T) {
	f := newFixture(t, 30*time.Second)
	oldRefresh := f.store.Get().RefreshToken
	f.connectThenDrop(t)

	require.NoError(t, f.coord.Run(context.Background()))

	renewed := f.store.Get()
	assert.Equal(t, 1, f.provider.RefreshCalls())
	assert.NotEqual(t, "current", renewed.AccessToken)
	assert.Equal(t, oldRefresh, renewed.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), renewed.ExpiresAt, time.Minute)
	assert.Equal(t, []string{"current", renewed.AccessToken}, f.server.Tokens())
	assert.True(t, f.remote.IsConnected())

	var out model.LeverData
	require.NoError(t, f.remote.Send(context.Background(), remote.SetPhysicalLeverData,
		model.LeverData{Name: "L7", State: model.PositionLeft}, &out))
	assert.Equal(t, "L7", out.Name)
}

func TestValidTokenResumesSameChannel(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.connectThenDrop(t)

	require.NoError(t, f.coord.Run(context.Background()))

	assert.Zero(t, f.provider.RefreshCalls())
	assert.Equal(t, []string{"current", "current"}, f.server.Tokens())
	assert.True(t, f.remote.IsConnected())
	assert.Equal(t, reconnect.StateIdle, f.coord.State())
}
