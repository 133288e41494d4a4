// Package token 保存当前访问令牌、刷新令牌与过期时间
package token

import (
	"sync"
	"time"
)

// Token 一组令牌
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidFor 距离过期是否严格大于 margin，相等视为不足
func (t Token) ValidFor(margin time.Duration, now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.Sub(now) > margin
}

// HasRefresh 是否持有刷新令牌
func (t Token) HasRefresh() bool {
	return t.RefreshToken != ""
}

// IsZero 是否为空令牌
func (t Token) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.ExpiresAt.IsZero()
}

// Store 并发安全的令牌存储，三个字段总是一起读写
type Store struct {
	mu  sync.RWMutex
	tok Token
}

// NewStore 创建令牌存储
func NewStore() *Store {
	return &Store{}
}

// Get 返回当前令牌副本
func (s *Store) Get() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

// Set 整体替换
func (s *Store) Set(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = t
}

// Renew 续期写入；新令牌未携带刷新令牌时保留旧值
func (s *Store) Renew(t Token) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.RefreshToken == "" {
		t.RefreshToken = s.tok.RefreshToken
	}
	s.tok = t
	return t
}

// Clear 清空
func (s *Store) Clear() {
	s.Set(Token{})
}
