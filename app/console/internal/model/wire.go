package model

import "time"

// DataFromServer 服务端推送的状态快照
// 指针与 nil 切片表示该部分未变化
type DataFromServer struct {
	ServerTime    *time.Time              `codec:"serverTime" json:"serverTime,omitempty"`
	Levers        []LeverData             `codec:"physicalLevers" json:"physicalLevers,omitempty"`
	KeyLevers     []KeyLeverData          `codec:"physicalKeyLevers" json:"physicalKeyLevers,omitempty"`
	Buttons       []DestinationButtonData `codec:"physicalButtons" json:"physicalButtons,omitempty"`
	Directions    []DirectionData         `codec:"directions" json:"directions,omitempty"`
	TrackCircuits []TrackCircuitData      `codec:"trackCircuits" json:"trackCircuits,omitempty"`
	Signals       []SignalData            `codec:"signals" json:"signals,omitempty"`
	Lamps         map[string]bool         `codec:"lamps" json:"lamps,omitempty"`
}

// LeverData 物理てこ
type LeverData struct {
	Name  string   `codec:"name" json:"name"`
	State Position `codec:"state" json:"state"`
}

// KeyLeverData 鍵てこ
type KeyLeverData struct {
	Name          string   `codec:"name" json:"name"`
	State         Position `codec:"state" json:"state"`
	IsKeyInserted bool     `codec:"isKeyInserted" json:"isKeyInserted"`
}

// DestinationButtonData 着点按钮
type DestinationButtonData struct {
	Name       string    `codec:"name" json:"name"`
	IsRaised   bool      `codec:"isRaised" json:"isRaised"`
	OperatedAt time.Time `codec:"operatedAt" json:"operatedAt"`
}

// DirectionData 方向てこ
type DirectionData struct {
	Name  string   `codec:"name" json:"name"`
	State Position `codec:"state" json:"state"`
}

// TrackCircuitData 轨道电路
type TrackCircuitData struct {
	Name   string `codec:"name" json:"name"`
	On     bool   `codec:"on" json:"on"`
	Locked bool   `codec:"locked" json:"locked"`
}

// SignalData 信号机
type SignalData struct {
	Name  string      `codec:"name" json:"name"`
	Phase SignalPhase `codec:"phase" json:"phase"`
}
