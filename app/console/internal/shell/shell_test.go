package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/statesync"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptTerminal struct {
	mu    sync.Mutex
	lines []string
	out   bytes.Buffer
}

func (t *scriptTerminal) ReadLine(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return "", io.EOF
	}
	line := t.lines[0]
	t.lines = t.lines[1:]
	return line, nil
}

func (t *scriptTerminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(&t.out, format, args...)
}

func (t *scriptTerminal) output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.String()
}

type fakeConsole struct {
	model       *model.Model
	levers      []model.LeverData
	keys        []model.KeyLeverData
	buttons     []model.DestinationButtonData
	keyAccepted bool
	sendErr     error
	connected   bool
	reconnects  int
	disconnects int
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{model: model.New(), keyAccepted: true}
}

func (c *fakeConsole) SendLever(_ context.Context, d model.LeverData) error {
	c.levers = append(c.levers, d)
	return c.sendErr
}

func (c *fakeConsole) SendKeyLever(_ context.Context, d model.KeyLeverData) (bool, error) {
	c.keys = append(c.keys, d)
	return c.keyAccepted, c.sendErr
}

func (c *fakeConsole) SendDestinationButton(_ context.Context, d model.DestinationButtonData) error {
	c.buttons = append(c.buttons, d)
	return c.sendErr
}

func (c *fakeConsole) Reconnect(context.Context) error {
	c.reconnects++
	c.connected = true
	return nil
}

func (c *fakeConsole) Disconnect(context.Context) error {
	c.disconnects++
	c.connected = false
	return nil
}

func (c *fakeConsole) Connected() bool { return c.connected }

func (c *fakeConsole) State() remote.State {
	if c.connected {
		return remote.StateConnected
	}
	return remote.StateDisconnected
}

func (c *fakeConsole) Token() token.Token { return token.Token{} }

func (c *fakeConsole) Model() *model.Model { return c.model }

func TestExecuteCommands(t *testing.T) {
	c := newFakeConsole()
	term := &scriptTerminal{}
	s := New(c, term, nil)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "lever L12 r"))
	require.NoError(t, s.Execute(ctx, "key K3 L in"))
	require.NoError(t, s.Execute(ctx, "button B7 up"))
	require.NoError(t, s.Execute(ctx, "   "))

	assert.Equal(t, []model.LeverData{{Name: "L12", State: model.PositionRight}}, c.levers)
	assert.Equal(t, []model.KeyLeverData{{Name: "K3", State: model.PositionLeft, IsKeyInserted: true}}, c.keys)
	assert.Equal(t, []model.DestinationButtonData{{Name: "B7", IsRaised: true, OperatedAt: at}}, c.buttons)
}

func TestExecuteRejectsBadInput(t *testing.T) {
	s := New(newFakeConsole(), &scriptTerminal{}, nil)
	ctx := context.Background()

	tests := []string{
		"fly away",
		"lever L1",
		"lever L1 X",
		"key K1 C sideways",
		"button B1 left",
		"alarm D9",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			assert.Error(t, s.Execute(ctx, line))
		})
	}
}

func TestKeyLeverDenied(t *testing.T) {
	c := newFakeConsole()
	c.keyAccepted = false
	term := &scriptTerminal{}
	s := New(c, term, nil)

	require.NoError(t, s.Execute(context.Background(), "key K1 C out"))
	assert.Contains(t, term.output(), "操作被拒绝")
}

func TestSendErrorReported(t *testing.T) {
	c := newFakeConsole()
	c.sendErr = remote.ErrNotConnected
	term := &scriptTerminal{lines: []string{"lever L1 C"}}

	require.NoError(t, New(c, term, nil).Run(context.Background()))
	assert.Contains(t, term.output(), "错误:")
	assert.Contains(t, term.output(), remote.ErrNotConnected.Error())
}

func TestAlarmAcknowledge(t *testing.T) {
	c := newFakeConsole()
	engine := statesync.New(c.model)
	engine.ApplyPush(&model.DataFromServer{
		Directions: []model.DirectionData{{Name: "D1", State: model.PositionLeft}},
	})
	require.Len(t, c.model.PendingAlarms(), 1)

	term := &scriptTerminal{}
	s := New(c, term, nil)
	require.NoError(t, s.Execute(context.Background(), "status"))
	assert.Contains(t, term.output(), "未确认报警: D1")

	require.NoError(t, s.Execute(context.Background(), "alarm D1"))
	assert.Empty(t, c.model.PendingAlarms())
}

func TestRunConnectDisconnectQuit(t *testing.T) {
	c := newFakeConsole()
	term := &scriptTerminal{lines: []string{"connect", "connect", "disconnect", "quit", "lever L1 C"}}

	require.NoError(t, New(c, term, nil).Run(context.Background()))
	assert.Equal(t, 1, c.reconnects)
	assert.Equal(t, 1, c.disconnects)
	assert.Empty(t, c.levers)
	assert.Contains(t, term.output(), "已连接")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := &blockingTerminal{}
	assert.NoError(t, New(newFakeConsole(), term, nil).Run(ctx))
}

type blockingTerminal struct{ scriptTerminal }

func (t *blockingTerminal) ReadLine(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestModelChangedPrintsAlarms(t *testing.T) {
	term := &scriptTerminal{}
	s := New(newFakeConsole(), term, nil)

	s.ModelChanged(statesync.Change{DirectionAlarms: []string{"D2"}, ReleasedButtons: []string{"B4"}})
	assert.Contains(t, term.output(), "方向てこ D2")
	assert.Contains(t, term.output(), "着点按钮 B4")
}

func TestQuitAlias(t *testing.T) {
	err := New(newFakeConsole(), &scriptTerminal{}, nil).Execute(context.Background(), "EXIT")
	assert.True(t, errors.Is(err, errQuit))
}
