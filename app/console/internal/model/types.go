package model

import (
	"fmt"
	"strings"
)

// Position 三位置（左 / 中 / 右）
type Position int

const (
	PositionCenter Position = iota
	PositionLeft
	PositionRight
)

func (p Position) String() string {
	switch p {
	case PositionLeft:
		return "L"
	case PositionCenter:
		return "C"
	case PositionRight:
		return "R"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// ParsePosition 解析 L / C / R（不区分大小写）
func ParsePosition(s string) (Position, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L", "LEFT":
		return PositionLeft, nil
	case "C", "N", "CENTER":
		return PositionCenter, nil
	case "R", "RIGHT":
		return PositionRight, nil
	default:
		return PositionCenter, fmt.Errorf("invalid position %q", s)
	}
}

// SignalPhase 信号现示
type SignalPhase int

const (
	SignalNone SignalPhase = iota
	SignalR
	SignalYY
	SignalY
	SignalYG
	SignalG
)

func (p SignalPhase) String() string {
	switch p {
	case SignalNone:
		return "None"
	case SignalR:
		return "R"
	case SignalYY:
		return "YY"
	case SignalY:
		return "Y"
	case SignalYG:
		return "YG"
	case SignalG:
		return "G"
	default:
		return fmt.Sprintf("SignalPhase(%d)", int(p))
	}
}
