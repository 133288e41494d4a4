// Package statesync 将服务端推送与请求应答合并进本地模型
package statesync

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

// Option Engine 选项
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock 设置时间源（测试用）
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// Engine 模型唯一写入方
// 推送与应答串行执行：合并、通知、替换按钮快照作为一个整体
type Engine struct {
	model  *model.Model
	logger logger.Logger
	clock  func() time.Time

	mu        sync.Mutex
	lmu       sync.RWMutex
	listeners []Listener
}

// New 创建合并引擎
func New(m *model.Model, opts ...Option) *Engine {
	e := &Engine{
		model:  m,
		logger: logger.NewNoop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model 被合并的模型
func (e *Engine) Model() *model.Model {
	return e.model
}

// Subscribe 注册变更监听；回调在合并串行区内执行，不能再调用 Apply 系列方法
func (e *Engine) Subscribe(l Listener) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) notify(ch Change) {
	e.lmu.RLock()
	listeners := slices.Clone(e.listeners)
	e.lmu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("模型变更通知异常", "source", ch.Source, "panic", r)
				}
			}()
			l.ModelChanged(ch)
		}()
	}
}

// ApplyPush 合并一次推送，返回是否有变化
func (e *Engine) ApplyPush(d *model.DataFromServer) bool {
	if d == nil {
		e.logger.Warn("收到空推送数据")
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	ch := Change{Source: SourcePush}

	e.model.Update(func(s *model.State) bool {
		if d.ServerTime != nil && !d.ServerTime.Equal(s.ServerTime) {
			s.ServerTime = *d.ServerTime
			ch.ServerTime = true
		}

		ch.Levers = merge(e, "lever", &s.Levers, d.Levers, now, diffLever, newLever)
		ch.KeyLevers = merge(e, "key_lever", &s.KeyLevers, d.KeyLevers, now, diffKeyLever, newKeyLever)
		ch.Buttons = merge(e, "button", &s.Buttons, d.Buttons, now, diffButton, newButton)
		if d.Directions != nil {
			var removed []string
			ch.DirectionAlarms, removed = rebuild(e, "direction", &s.Directions, d.Directions, now, diffDirection, newDirection)
			ch.Directions = append(slices.Clone(ch.DirectionAlarms), removed...)
		}
		ch.TrackCircuits = merge(e, "track_circuit", &s.TrackCircuits, d.TrackCircuits, now, diffTrackCircuit, newTrackCircuit)
		ch.Signals = merge(e, "signal", &s.Signals, d.Signals, now, diffSignal, newSignal)
		ch.Lamps = merge(e, "lamp", &s.Lamps, lampRecords(d.Lamps), now, diffLamp, newLamp)

		if d.Buttons != nil {
			ch.ReleasedButtons = releasedEdges(s.ButtonSnapshot, d.Buttons)
			ch.ButtonSnapshot = !sameSnapshot(s.ButtonSnapshot, validButtons(d.Buttons))
		}
		return true
	})

	changed := !ch.Empty()
	if changed {
		e.notify(ch)
	}

	// 通知之后整体替换按钮快照
	if ch.ButtonSnapshot {
		next := validButtons(d.Buttons)
		e.model.Update(func(s *model.State) bool {
			s.ButtonSnapshot = next
			return true
		})
	}
	return changed
}

// ApplyLeverResponse 合并てこ操作应答
func (e *Engine) ApplyLeverResponse(d *model.LeverData) bool {
	if d == nil {
		e.logger.Warn("てこ操作应答为空")
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := Change{Source: SourceLever}
	e.model.Update(func(s *model.State) bool {
		ch.Levers = merge(e, "lever", &s.Levers, []model.LeverData{*d}, e.clock(), diffLever, newLever)
		return true
	})
	return e.finish(ch)
}

// ApplyKeyLeverResponse 合并鍵てこ操作应答
// 应答中的插键状态与本地相同视为操作被拒绝，返回 false；字段合并照常进行
func (e *Engine) ApplyKeyLeverResponse(d *model.KeyLeverData) bool {
	if d == nil {
		e.logger.Warn("鍵てこ操作应答为空")
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := true
	ch := Change{Source: SourceKeyLever}
	e.model.Update(func(s *model.State) bool {
		if i := model.Find(s.KeyLevers, d.Name); i >= 0 && s.KeyLevers[i].IsKeyInserted == d.IsKeyInserted {
			accepted = false
		}
		ch.KeyLevers = merge(e, "key_lever", &s.KeyLevers, []model.KeyLeverData{*d}, e.clock(), diffKeyLever, newKeyLever)
		return true
	})
	if !accepted {
		e.logger.Info("鍵てこ操作被拒绝", "name", d.Name, "key_inserted", d.IsKeyInserted)
	}
	e.finish(ch)
	return accepted
}

// ApplyButtonResponse 合并着点按钮应答，同时更新按钮快照中的对应项
func (e *Engine) ApplyButtonResponse(d *model.DestinationButtonData) bool {
	if d == nil {
		e.logger.Warn("着点按钮应答为空")
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := Change{Source: SourceButton}
	e.model.Update(func(s *model.State) bool {
		ch.Buttons = merge(e, "button", &s.Buttons, []model.DestinationButtonData{*d}, e.clock(), diffButton, newButton)
		if d.Name == "" {
			return false
		}
		if i := model.Find(s.ButtonSnapshot, d.Name); i < 0 {
			s.ButtonSnapshot = append(s.ButtonSnapshot, *d)
			ch.ButtonSnapshot = true
		} else if !sameButton(s.ButtonSnapshot[i], *d) {
			s.ButtonSnapshot[i] = *d
			ch.ButtonSnapshot = true
		}
		return true
	})
	return e.finish(ch)
}

func (e *Engine) finish(ch Change) bool {
	if ch.Empty() {
		return false
	}
	e.notify(ch)
	return true
}

// merge 按名称连接：已知名称逐字段比较，未知名称追加；单条记录失败只跳过该条
func merge[D model.Named, S model.Named](
	e *Engine,
	kind string,
	dst *[]D,
	src []S,
	now time.Time,
	diff func(*D, S, time.Time) bool,
	create func(S, time.Time) D,
) []string {
	var changed []string
	for _, rec := range src {
		ok, err := mergeOne(dst, rec, now, diff, create)
		if err != nil {
			e.logger.Warn("记录合并失败，已跳过", "kind", kind, "name", rec.Key(), "error", err)
			continue
		}
		if ok {
			changed = append(changed, rec.Key())
		}
	}
	return changed
}

// rebuild 按推送顺序重建集合：已知名称沿用原记录，推送中缺失的名称被移除
func rebuild[D model.Named, S model.Named](
	e *Engine,
	kind string,
	dst *[]D,
	src []S,
	now time.Time,
	diff func(*D, S, time.Time) bool,
	create func(S, time.Time) D,
) (changed, removed []string) {
	prev := *dst
	next := make([]D, 0, len(src))
	seen := make(map[string]struct{}, len(src))
	for _, rec := range src {
		name := rec.Key()
		if name == "" {
			e.logger.Warn("记录合并失败，已跳过", "kind", kind, "error", ErrInvalidRecord)
			continue
		}
		if _, dup := seen[name]; dup {
			e.logger.Warn("推送中名称重复，已跳过", "kind", kind, "name", name)
			continue
		}
		seen[name] = struct{}{}

		if i := model.Find(prev, name); i >= 0 {
			cur := prev[i]
			if diff(&cur, rec, now) {
				changed = append(changed, name)
			}
			next = append(next, cur)
			continue
		}
		next = append(next, create(rec, now))
		changed = append(changed, name)
	}

	for _, old := range prev {
		if _, ok := seen[old.Key()]; !ok {
			removed = append(removed, old.Key())
		}
	}
	*dst = next
	return changed, removed
}

func mergeOne[D model.Named, S model.Named](
	dst *[]D,
	rec S,
	now time.Time,
	diff func(*D, S, time.Time) bool,
	create func(S, time.Time) D,
) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			changed = false
		}
	}()

	name := rec.Key()
	if name == "" {
		return false, ErrInvalidRecord
	}
	if i := model.Find(*dst, name); i >= 0 {
		return diff(&(*dst)[i], rec, now), nil
	}
	*dst = append(*dst, create(rec, now))
	return true, nil
}

func lampRecords(lamps map[string]bool) []lampData {
	if lamps == nil {
		return nil
	}
	out := make([]lampData, 0, len(lamps))
	for _, name := range slices.Sorted(maps.Keys(lamps)) {
		out = append(out, lampData{name: name, on: lamps[name]})
	}
	return out
}

func validButtons(in []model.DestinationButtonData) []model.DestinationButtonData {
	out := make([]model.DestinationButtonData, 0, len(in))
	for _, b := range in {
		if b.Name != "" {
			out = append(out, b)
		}
	}
	return out
}
