// Package model 本地运行模型：服务端设备状态的镜像
package model

import (
	"slices"
	"sync"
	"time"
)

// Named 以名称为连接键的记录
type Named interface {
	Key() string
}

// Lever 物理てこ
type Lever struct {
	Name       string
	State      Position
	LastUpdate time.Time
}

// KeyLever 鍵てこ
type KeyLever struct {
	Name          string
	State         Position
	IsKeyInserted bool
	LastUpdate    time.Time
}

// DestinationButton 着点按钮
type DestinationButton struct {
	Name       string
	IsRaised   bool
	OperatedAt time.Time
	LastUpdate time.Time
}

// Direction 方向てこ；AlarmPlayed 在状态变化时复位，由报警消费方置位
type Direction struct {
	Name        string
	State       Position
	AlarmPlayed bool
	LastUpdate  time.Time
}

// TrackCircuit 轨道电路
type TrackCircuit struct {
	Name       string
	On         bool
	Locked     bool
	LastUpdate time.Time
}

// Signal 信号机
type Signal struct {
	Name       string
	Phase      SignalPhase
	LastUpdate time.Time
}

// Lamp 表示灯
type Lamp struct {
	Name       string
	On         bool
	LastUpdate time.Time
}

func (v Lever) Key() string             { return v.Name }
func (v KeyLever) Key() string          { return v.Name }
func (v DestinationButton) Key() string { return v.Name }
func (v Direction) Key() string         { return v.Name }
func (v TrackCircuit) Key() string      { return v.Name }
func (v Signal) Key() string            { return v.Name }
func (v Lamp) Key() string              { return v.Name }
func (v LeverData) Key() string         { return v.Name }
func (v KeyLeverData) Key() string      { return v.Name }
func (v DestinationButtonData) Key() string {
	return v.Name
}
func (v DirectionData) Key() string    { return v.Name }
func (v TrackCircuitData) Key() string { return v.Name }
func (v SignalData) Key() string       { return v.Name }

// State 模型内容，按接收顺序保存
type State struct {
	ServerTime    time.Time
	Levers        []Lever
	KeyLevers     []KeyLever
	Buttons       []DestinationButton
	Directions    []Direction
	TrackCircuits []TrackCircuit
	Signals       []Signal
	Lamps         []Lamp

	// ButtonSnapshot 上一次推送的按钮状态，用于检测抬起→落下的边沿
	ButtonSnapshot []DestinationButtonData
}

// Clone 深拷贝
func (s *State) Clone() State {
	return State{
		ServerTime:     s.ServerTime,
		Levers:         slices.Clone(s.Levers),
		KeyLevers:      slices.Clone(s.KeyLevers),
		Buttons:        slices.Clone(s.Buttons),
		Directions:     slices.Clone(s.Directions),
		TrackCircuits:  slices.Clone(s.TrackCircuits),
		Signals:        slices.Clone(s.Signals),
		Lamps:          slices.Clone(s.Lamps),
		ButtonSnapshot: slices.Clone(s.ButtonSnapshot),
	}
}

// Find 按名称查找，返回下标，未找到为 -1
func Find[T Named](items []T, name string) int {
	for i := range items {
		if items[i].Key() == name {
			return i
		}
	}
	return -1
}

// Model 带锁的运行模型；写入方只有 statesync，渲染侧只读快照
type Model struct {
	mu    sync.RWMutex
	state State
}

// New 创建空模型
func New() *Model {
	return &Model{}
}

// Update 在临界区内修改模型，返回 fn 的结果
func (m *Model) Update(fn func(s *State) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.state)
}

// Snapshot 返回深拷贝
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Lever 查询单个てこ
func (m *Model) Lever(name string) (Lever, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := Find(m.state.Levers, name); i >= 0 {
		return m.state.Levers[i], true
	}
	return Lever{}, false
}

// KeyLever 查询单个鍵てこ
func (m *Model) KeyLever(name string) (KeyLever, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := Find(m.state.KeyLevers, name); i >= 0 {
		return m.state.KeyLevers[i], true
	}
	return KeyLever{}, false
}

// Direction 查询单个方向てこ
func (m *Model) Direction(name string) (Direction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := Find(m.state.Directions, name); i >= 0 {
		return m.state.Directions[i], true
	}
	return Direction{}, false
}

// PendingAlarms 状态变化后尚未播放报警的方向てこ
func (m *Model) PendingAlarms() []Direction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Direction
	for _, d := range m.state.Directions {
		if !d.AlarmPlayed {
			out = append(out, d)
		}
	}
	return out
}

// MarkAlarmPlayed 报警已播放；不影响 LastUpdate
func (m *Model) MarkAlarmPlayed(name string) bool {
	return m.Update(func(s *State) bool {
		i := Find(s.Directions, name)
		if i < 0 || s.Directions[i].AlarmPlayed {
			return false
		}
		s.Directions[i].AlarmPlayed = true
		return true
	})
}
