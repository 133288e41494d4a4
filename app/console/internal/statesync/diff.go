package statesync

import (
	"time"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
)

// 每种记录一组显式的逐字段比较：只有字段值不同才写入，并仅在有写入时刷新 LastUpdate

func diffLever(dst *model.Lever, src model.LeverData, now time.Time) bool {
	if dst.State == src.State {
		return false
	}
	dst.State = src.State
	dst.LastUpdate = now
	return true
}

func newLever(src model.LeverData, now time.Time) model.Lever {
	return model.Lever{Name: src.Name, State: src.State, LastUpdate: now}
}

func diffKeyLever(dst *model.KeyLever, src model.KeyLeverData, now time.Time) bool {
	changed := false
	if dst.State != src.State {
		dst.State = src.State
		changed = true
	}
	if dst.IsKeyInserted != src.IsKeyInserted {
		dst.IsKeyInserted = src.IsKeyInserted
		changed = true
	}
	if changed {
		dst.LastUpdate = now
	}
	return changed
}

func newKeyLever(src model.KeyLeverData, now time.Time) model.KeyLever {
	return model.KeyLever{Name: src.Name, State: src.State, IsKeyInserted: src.IsKeyInserted, LastUpdate: now}
}

func diffButton(dst *model.DestinationButton, src model.DestinationButtonData, now time.Time) bool {
	changed := false
	if dst.IsRaised != src.IsRaised {
		dst.IsRaised = src.IsRaised
		changed = true
	}
	if !dst.OperatedAt.Equal(src.OperatedAt) {
		dst.OperatedAt = src.OperatedAt
		changed = true
	}
	if changed {
		dst.LastUpdate = now
	}
	return changed
}

func newButton(src model.DestinationButtonData, now time.Time) model.DestinationButton {
	return model.DestinationButton{Name: src.Name, IsRaised: src.IsRaised, OperatedAt: src.OperatedAt, LastUpdate: now}
}

// diffDirection 状态变化时复位报警标志
func diffDirection(dst *model.Direction, src model.DirectionData, now time.Time) bool {
	if dst.State == src.State {
		return false
	}
	dst.State = src.State
	dst.LastUpdate = now
	dst.AlarmPlayed = false
	return true
}

func newDirection(src model.DirectionData, now time.Time) model.Direction {
	return model.Direction{Name: src.Name, State: src.State, LastUpdate: now}
}

func diffTrackCircuit(dst *model.TrackCircuit, src model.TrackCircuitData, now time.Time) bool {
	changed := false
	if dst.On != src.On {
		dst.On = src.On
		changed = true
	}
	if dst.Locked != src.Locked {
		dst.Locked = src.Locked
		changed = true
	}
	if changed {
		dst.LastUpdate = now
	}
	return changed
}

func newTrackCircuit(src model.TrackCircuitData, now time.Time) model.TrackCircuit {
	return model.TrackCircuit{Name: src.Name, On: src.On, Locked: src.Locked, LastUpdate: now}
}

func diffSignal(dst *model.Signal, src model.SignalData, now time.Time) bool {
	if dst.Phase == src.Phase {
		return false
	}
	dst.Phase = src.Phase
	dst.LastUpdate = now
	return true
}

func newSignal(src model.SignalData, now time.Time) model.Signal {
	return model.Signal{Name: src.Name, Phase: src.Phase, LastUpdate: now}
}

// lampData 表示灯在推送中是 map，合并前转成具名记录
type lampData struct {
	name string
	on   bool
}

func (l lampData) Key() string { return l.name }

func diffLamp(dst *model.Lamp, src lampData, now time.Time) bool {
	if dst.On == src.on {
		return false
	}
	dst.On = src.on
	dst.LastUpdate = now
	return true
}

func newLamp(src lampData, now time.Time) model.Lamp {
	return model.Lamp{Name: src.name, On: src.on, LastUpdate: now}
}

func sameButton(a, b model.DestinationButtonData) bool {
	return a.Name == b.Name && a.IsRaised == b.IsRaised && a.OperatedAt.Equal(b.OperatedAt)
}

func sameSnapshot(a, b []model.DestinationButtonData) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameButton(a[i], b[i]) {
			return false
		}
	}
	return true
}

// releasedEdges 上一次快照中抬起、本次落下的按钮
func releasedEdges(prev, next []model.DestinationButtonData) []string {
	var out []string
	for _, b := range next {
		if b.IsRaised {
			continue
		}
		if i := model.Find(prev, b.Name); i >= 0 && prev[i].IsRaised {
			out = append(out, b.Name)
		}
	}
	return out
}
