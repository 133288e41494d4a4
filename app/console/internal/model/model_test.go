package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	tests := map[string]Position{"L": PositionLeft, "c": PositionCenter, " r ": PositionRight, "N": PositionCenter}
	for in, want := range tests {
		got, err := ParsePosition(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParsePosition("X")
	assert.Error(t, err)
	assert.Equal(t, "R", PositionRight.String())
	assert.Equal(t, "YG", SignalYG.String())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m := New()
	m.Update(func(s *State) bool {
		s.Levers = append(s.Levers, Lever{Name: "L1"})
		s.Directions = append(s.Directions, Direction{Name: "D1"})
		return true
	})

	snap := m.Snapshot()
	snap.Levers[0].State = PositionRight
	snap.Directions = nil

	l, ok := m.Lever("L1")
	require.True(t, ok)
	assert.Equal(t, PositionCenter, l.State)
	_, ok = m.Direction("D1")
	assert.True(t, ok)
	_, ok = m.KeyLever("K1")
	assert.False(t, ok)
}

func TestFind(t *testing.T) {
	items := []Signal{{Name: "S1"}, {Name: "S2"}}
	assert.Equal(t, 1, Find(items, "S2"))
	assert.Equal(t, -1, Find(items, "S3"))
	assert.Equal(t, -1, Find([]Signal(nil), "S1"))
}

func TestMarkAlarmPlayedUnknown(t *testing.T) {
	m := New()
	assert.False(t, m.MarkAlarmPlayed("nope"))
}
