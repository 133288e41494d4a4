package statesync

import (
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	changes []Change
	// snapshots 通知时看到的按钮快照
	snapshots [][]model.DestinationButtonData
	m         *model.Model
}

func (r *recorder) ModelChanged(c Change) {
	r.changes = append(r.changes, c)
	if r.m != nil {
		r.snapshots = append(r.snapshots, r.m.Snapshot().ButtonSnapshot)
	}
}

func newEngine(t *testing.T) (*Engine, *recorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := model.New()
	e := New(m, WithClock(clock.Now))
	rec := &recorder{m: m}
	e.Subscribe(rec)
	return e, rec, clock
}

func fullPush() *model.DataFromServer {
	st := time.Date(2024, 6, 1, 8, 59, 0, 0, time.UTC)
	return &model.DataFromServer{
		ServerTime: &st,
		Levers:     []model.LeverData{{Name: "L1", State: model.PositionLeft}, {Name: "L2", State: model.PositionCenter}},
		KeyLevers:  []model.KeyLeverData{{Name: "K1", State: model.PositionCenter, IsKeyInserted: true}},
		Buttons:    []model.DestinationButtonData{{Name: "B1", IsRaised: true, OperatedAt: st}},
		Directions: []model.DirectionData{{Name: "D1", State: model.PositionLeft}},
		TrackCircuits: []model.TrackCircuitData{
			{Name: "T1", On: true},
		},
		Signals: []model.SignalData{{Name: "S1", Phase: model.SignalR}},
		Lamps:   map[string]bool{"lamp-b": true, "lamp-a": false},
	}
}

func TestApplyPushIdempotent(t *testing.T) {
	e, rec, clock := newEngine(t)

	require.True(t, e.ApplyPush(fullPush()))
	first := e.Model().Snapshot()
	require.Len(t, rec.changes, 1)

	clock.Advance(time.Minute)
	assert.False(t, e.ApplyPush(fullPush()))
	assert.Equal(t, first, e.Model().Snapshot())
	assert.Len(t, rec.changes, 1)

	assert.Equal(t, []string{"lamp-a", "lamp-b"}, rec.changes[0].Lamps)
	assert.Equal(t, []string{"L1", "L2"}, rec.changes[0].Levers)
}

func TestFieldLevelDiff(t *testing.T) {
	e, rec, clock := newEngine(t)
	require.True(t, e.ApplyPush(fullPush()))
	t0 := clock.now

	clock.Advance(5 * time.Second)
	push := &model.DataFromServer{
		KeyLevers: []model.KeyLeverData{{Name: "K1", State: model.PositionRight, IsKeyInserted: true}},
	}
	require.True(t, e.ApplyPush(push))

	s := e.Model().Snapshot()
	k := s.KeyLevers[0]
	assert.Equal(t, model.PositionRight, k.State)
	assert.True(t, k.IsKeyInserted)
	assert.Equal(t, clock.now, k.LastUpdate)

	// 未出现在推送中的记录与字段保持不变
	assert.Equal(t, t0, s.Levers[0].LastUpdate)
	assert.Equal(t, model.PositionLeft, s.Levers[0].State)
	assert.Len(t, s.Directions, 1)
	assert.Len(t, s.Lamps, 2)

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, []string{"K1"}, last.KeyLevers)
	assert.Empty(t, last.Levers)
	assert.False(t, last.ServerTime)
}

func TestUnknownNamesAppended(t *testing.T) {
	e, _, _ := newEngine(t)
	require.True(t, e.ApplyPush(fullPush()))

	require.True(t, e.ApplyPush(&model.DataFromServer{
		Levers: []model.LeverData{{Name: "L9", State: model.PositionRight}},
	}))
	s := e.Model().Snapshot()
	require.Len(t, s.Levers, 3)
	assert.Equal(t, "L9", s.Levers[2].Name)
}

func TestDirectionAlarmFlag(t *testing.T) {
	e, rec, clock := newEngine(t)
	m := e.Model()
	require.True(t, e.ApplyPush(fullPush()))

	d, ok := m.Direction("D1")
	require.True(t, ok)
	assert.False(t, d.AlarmPlayed)
	require.True(t, m.MarkAlarmPlayed("D1"))
	assert.False(t, m.MarkAlarmPlayed("D1"))
	assert.Empty(t, m.PendingAlarms())

	// 相同状态不复位
	clock.Advance(time.Second)
	assert.False(t, e.ApplyPush(&model.DataFromServer{Directions: []model.DirectionData{{Name: "D1", State: model.PositionLeft}}}))
	d, _ = m.Direction("D1")
	assert.True(t, d.AlarmPlayed)

	// 状态变化复位并刷新时间
	clock.Advance(time.Second)
	require.True(t, e.ApplyPush(&model.DataFromServer{Directions: []model.DirectionData{{Name: "D1", State: model.PositionRight}}}))
	d, _ = m.Direction("D1")
	assert.False(t, d.AlarmPlayed)
	assert.Equal(t, clock.now, d.LastUpdate)
	assert.Equal(t, []string{"D1"}, rec.changes[len(rec.changes)-1].DirectionAlarms)
	assert.Len(t, m.PendingAlarms(), 1)
}

func TestDirectionsFollowPush(t *testing.T) {
	e, rec, clock := newEngine(t)
	m := e.Model()

	require.True(t, e.ApplyPush(&model.DataFromServer{Directions: []model.DirectionData{
		{Name: "D1", State: model.PositionLeft},
		{Name: "D2", State: model.PositionRight},
	}}))
	t0 := clock.now
	require.True(t, m.MarkAlarmPlayed("D1"))

	clock.Advance(time.Second)
	require.True(t, e.ApplyPush(&model.DataFromServer{Directions: []model.DirectionData{
		{Name: "D1", State: model.PositionLeft},
	}}))

	s := m.Snapshot()
	require.Len(t, s.Directions, 1)
	d := s.Directions[0]
	assert.Equal(t, "D1", d.Name)
	// 沿用原记录
	assert.True(t, d.AlarmPlayed)
	assert.Equal(t, t0, d.LastUpdate)
	_, ok := m.Direction("D2")
	assert.False(t, ok)

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, []string{"D2"}, last.Directions)
	assert.Empty(t, last.DirectionAlarms)

	// 不带方向集合的推送保持现状
	clock.Advance(time.Second)
	assert.False(t, e.ApplyPush(&model.DataFromServer{Levers: nil}))
	assert.Len(t, m.Snapshot().Directions, 1)

	// 按推送顺序重建
	require.True(t, e.ApplyPush(&model.DataFromServer{Directions: []model.DirectionData{
		{Name: "D3", State: model.PositionCenter},
		{Name: "D1", State: model.PositionLeft},
	}}))
	s = m.Snapshot()
	require.Len(t, s.Directions, 2)
	assert.Equal(t, "D3", s.Directions[0].Name)
	assert.Equal(t, "D1", s.Directions[1].Name)
	assert.Equal(t, []string{"D3"}, rec.changes[len(rec.changes)-1].DirectionAlarms)
}

func TestButtonEdgesAndSnapshot(t *testing.T) {
	e, rec, _ := newEngine(t)
	require.True(t, e.ApplyPush(fullPush()))
	require.Len(t, rec.snapshots, 1)
	// 首次通知时快照尚未替换
	assert.Empty(t, rec.snapshots[0])
	require.Len(t, e.Model().Snapshot().ButtonSnapshot, 1)

	opAt := time.Date(2024, 6, 1, 9, 1, 0, 0, time.UTC)
	require.True(t, e.ApplyPush(&model.DataFromServer{
		Buttons: []model.DestinationButtonData{
			{Name: "B1", IsRaised: false, OperatedAt: opAt},
			{Name: "B2", IsRaised: false, OperatedAt: opAt},
		},
	}))

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, []string{"B1"}, last.ReleasedButtons)
	assert.True(t, last.ButtonSnapshot)
	assert.True(t, rec.snapshots[len(rec.snapshots)-1][0].IsRaised)

	snap := e.Model().Snapshot().ButtonSnapshot
	require.Len(t, snap, 2)
	assert.False(t, snap[0].IsRaised)
}

func TestBadRecordSkipped(t *testing.T) {
	e, _, _ := newEngine(t)
	require.True(t, e.ApplyPush(&model.DataFromServer{
		Levers: []model.LeverData{{Name: ""}, {Name: "L1", State: model.PositionRight}},
	}))
	s := e.Model().Snapshot()
	require.Len(t, s.Levers, 1)
	assert.Equal(t, "L1", s.Levers[0].Name)
}

func TestListenerPanicDoesNotBreakMerge(t *testing.T) {
	e, rec, _ := newEngine(t)
	e.Subscribe(ListenerFunc(func(Change) { panic("render failed") }))

	require.True(t, e.ApplyPush(fullPush()))
	assert.Len(t, rec.changes, 1)
	assert.Len(t, e.Model().Snapshot().Levers, 2)
}

func TestNilInputsAreNoops(t *testing.T) {
	e, rec, _ := newEngine(t)
	assert.False(t, e.ApplyPush(nil))
	assert.False(t, e.ApplyLeverResponse(nil))
	assert.False(t, e.ApplyButtonResponse(nil))
	assert.True(t, e.ApplyKeyLeverResponse(nil))
	assert.Empty(t, rec.changes)
}

func TestLeverResponse(t *testing.T) {
	e, rec, clock := newEngine(t)
	require.True(t, e.ApplyPush(fullPush()))

	clock.Advance(time.Second)
	require.True(t, e.ApplyLeverResponse(&model.LeverData{Name: "L2", State: model.PositionRight}))
	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, SourceLever, last.Source)
	assert.Equal(t, []string{"L2"}, last.Levers)

	l, ok := e.Model().Lever("L2")
	require.True(t, ok)
	assert.Equal(t, model.PositionRight, l.State)
	assert.Equal(t, clock.now, l.LastUpdate)

	n := len(rec.changes)
	assert.False(t, e.ApplyLeverResponse(&model.LeverData{Name: "L2", State: model.PositionRight}))
	assert.Len(t, rec.changes, n)
}

func TestKeyLeverDenial(t *testing.T) {
	e, rec, _ := newEngine(t)
	require.True(t, e.ApplyPush(fullPush()))
	n := len(rec.changes)

	// 插键状态未变化：拒绝，但位置字段照常合并
	accepted := e.ApplyKeyLeverResponse(&model.KeyLeverData{Name: "K1", State: model.PositionLeft, IsKeyInserted: true})
	assert.False(t, accepted)
	k, _ := e.Model().KeyLever("K1")
	assert.Equal(t, model.PositionLeft, k.State)
	assert.Len(t, rec.changes, n+1)

	accepted = e.ApplyKeyLeverResponse(&model.KeyLeverData{Name: "K1", State: model.PositionLeft, IsKeyInserted: false})
	assert.True(t, accepted)
	k, _ = e.Model().KeyLever("K1")
	assert.False(t, k.IsKeyInserted)

	// 完全相同的拒绝应答不触发通知
	n = len(rec.changes)
	assert.False(t, e.ApplyKeyLeverResponse(&model.KeyLeverData{Name: "K1", State: model.PositionLeft, IsKeyInserted: false}))
	assert.Len(t, rec.changes, n)
}

func TestButtonResponseUpsertsSnapshot(t *testing.T) {
	e, rec, _ := newEngine(t)
	opAt := time.Date(2024, 6, 1, 9, 2, 0, 0, time.UTC)

	require.True(t, e.ApplyButtonResponse(&model.DestinationButtonData{Name: "B5", IsRaised: true, OperatedAt: opAt}))
	s := e.Model().Snapshot()
	require.Len(t, s.ButtonSnapshot, 1)
	require.Len(t, s.Buttons, 1)
	assert.Equal(t, SourceButton, rec.changes[0].Source)

	require.True(t, e.ApplyButtonResponse(&model.DestinationButtonData{Name: "B5", IsRaised: false, OperatedAt: opAt}))
	s = e.Model().Snapshot()
	require.Len(t, s.ButtonSnapshot, 1)
	assert.False(t, s.ButtonSnapshot[0].IsRaised)

	assert.False(t, e.ApplyButtonResponse(&model.DestinationButtonData{Name: "B5", IsRaised: false, OperatedAt: opAt}))
}
