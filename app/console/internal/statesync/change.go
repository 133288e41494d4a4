package statesync

// Source 变更来源
type Source string

const (
	SourcePush     Source = "push"
	SourceLever    Source = "lever"
	SourceKeyLever Source = "key_lever"
	SourceButton   Source = "button"
)

// Change 一次推送或应答合并后的变更汇总
type Change struct {
	Source Source

	ServerTime    bool
	Levers        []string
	KeyLevers     []string
	Buttons       []string
	// Directions 包含推送中缺失而被移除的方向てこ
	Directions    []string
	TrackCircuits []string
	Signals       []string
	Lamps         []string

	// ButtonSnapshot 上一次按钮快照被替换或更新
	ButtonSnapshot bool
	// ReleasedButtons 相对上一次快照由抬起变为落下的按钮
	ReleasedButtons []string
	// DirectionAlarms 状态变化、需要重新报警的方向てこ
	DirectionAlarms []string
}

// Empty 没有任何字段变化
func (c *Change) Empty() bool {
	return !c.ServerTime && !c.ButtonSnapshot &&
		len(c.Levers) == 0 && len(c.KeyLevers) == 0 && len(c.Buttons) == 0 &&
		len(c.Directions) == 0 && len(c.TrackCircuits) == 0 && len(c.Signals) == 0 &&
		len(c.Lamps) == 0 && len(c.ReleasedButtons) == 0
}

// Listener 模型变更通知
type Listener interface {
	ModelChanged(Change)
}

// ListenerFunc 函数适配
type ListenerFunc func(Change)

func (f ListenerFunc) ModelChanged(c Change) { f(c) }
