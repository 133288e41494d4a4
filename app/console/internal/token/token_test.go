package token

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidFor(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	margin := time.Minute

	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"well ahead", now.Add(time.Hour), true},
		{"just over margin", now.Add(margin + time.Nanosecond), true},
		{"exactly margin", now.Add(margin), false},
		{"inside margin", now.Add(30 * time.Second), false},
		{"expired", now.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := Token{AccessToken: "a", ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, tok.ValidFor(margin, now))
		})
	}

	assert.False(t, Token{ExpiresAt: now.Add(time.Hour)}.ValidFor(margin, now))
}

func TestRenewKeepsRefreshToken(t *testing.T) {
	s := NewStore()
	exp := time.Now().Add(time.Hour)
	s.Set(Token{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: exp})

	got := s.Renew(Token{AccessToken: "a2", ExpiresAt: exp.Add(time.Hour)})
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
	assert.Equal(t, got, s.Get())

	got = s.Renew(Token{AccessToken: "a3", RefreshToken: "r2", ExpiresAt: exp})
	assert.Equal(t, "r2", got.RefreshToken)
	assert.True(t, s.Get().HasRefresh())

	s.Clear()
	assert.True(t, s.Get().IsZero())
	assert.False(t, s.Get().HasRefresh())
}

func TestStoreConcurrentSnapshots(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if j%2 == 0 {
					s.Set(Token{AccessToken: "even", RefreshToken: "even"})
				} else {
					s.Set(Token{AccessToken: "odd", RefreshToken: "odd"})
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tok := s.Get()
				assert.Equal(t, tok.AccessToken, tok.RefreshToken)
			}
		}()
	}
	wg.Wait()
}
