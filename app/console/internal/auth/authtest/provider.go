// Package authtest 测试用的授权服务
package authtest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-interlock/pkg/security"
)

// Provider 支持授权码 + PKCE 与刷新令牌的授权服务
type Provider struct {
	*httptest.Server

	jwt *security.JWTManager

	mu sync.Mutex
	// Roles 写入访问令牌 role 声明
	Roles []string
	// AccessTTL 访问令牌 exp
	AccessTTL time.Duration
	// OmitExpiresIn 令牌响应不带 expires_in
	OmitExpiresIn bool
	// RotateRefresh 刷新时签发新的刷新令牌
	RotateRefresh bool
	// RefreshError 刷新时返回的 OAuth 错误码
	RefreshError string
	// RefreshStatus 刷新时返回的 HTTP 状态码
	RefreshStatus int
	// RefreshDelay 刷新响应前等待
	RefreshDelay time.Duration

	codes   map[string]pendingCode
	refresh map[string]bool

	refreshCalls atomic.Int32
	exchanges    atomic.Int32
}

type pendingCode struct {
	challenge   string
	redirectURI string
}

// NewProvider 启动授权服务
func NewProvider() *Provider {
	m, err := security.NewJWTManager(&security.JWTConfig{SecretKey: "authtest", Issuer: "authtest"})
	if err != nil {
		panic(err)
	}
	p := &Provider{
		jwt:       m,
		AccessTTL: time.Hour,
		codes:     make(map[string]pendingCode),
		refresh:   make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", p.handleToken)
	p.Server = httptest.NewServer(mux)
	return p
}

// Configure 在锁内修改行为
func (p *Provider) Configure(fn func(p *Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// RefreshCalls 刷新请求次数
func (p *Provider) RefreshCalls() int {
	return int(p.refreshCalls.Load())
}

// Exchanges 授权码兑换次数
func (p *Provider) Exchanges() int {
	return int(p.exchanges.Load())
}

// IssueRefreshToken 直接登记一个可用的刷新令牌
func (p *Provider) IssueRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rt := "rt-" + uuid.NewString()
	p.refresh[rt] = true
	return rt
}

// AccessToken 签发一个访问令牌
func (p *Provider) AccessToken(ttl time.Duration, roles ...string) string {
	tok, err := p.jwt.GenerateToken(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Payload: map[string]any{"role": roles},
	})
	if err != nil {
		panic(err)
	}
	return tok
}

// Browser 模拟用户在浏览器中完成登录；denyWith 非空时以该错误码拒绝
func (p *Provider) Browser(denyWith string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			return &url.Error{Op: "authorize", URL: authURL, Err: http.ErrNotSupported}
		}
		if !slices.Contains(strings.Fields(q.Get("scope")), "offline_access") {
			return &url.Error{Op: "authorize", URL: authURL, Err: http.ErrNotSupported}
		}

		cb, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			return err
		}
		cq := url.Values{"state": {q.Get("state")}}
		if denyWith != "" {
			cq.Set("error", denyWith)
		} else {
			code := "code-" + uuid.NewString()
			p.mu.Lock()
			p.codes[code] = pendingCode{challenge: q.Get("code_challenge"), redirectURI: q.Get("redirect_uri")}
			p.mu.Unlock()
			cq.Set("code", code)
		}
		cb.RawQuery = cq.Encode()

		go func() {
			resp, err := http.Get(cb.String())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchanges.Add(1)
		p.mu.Lock()
		pc, ok := p.codes[r.PostForm.Get("code")]
		delete(p.codes, r.PostForm.Get("code"))
		p.mu.Unlock()

		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if !ok || base64.RawURLEncoding.EncodeToString(sum[:]) != pc.challenge ||
			pc.redirectURI != r.PostForm.Get("redirect_uri") {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		p.writeToken(w, true)

	case "refresh_token":
		p.refreshCalls.Add(1)
		p.mu.Lock()
		delay, code, status := p.RefreshDelay, p.RefreshError, p.RefreshStatus
		known := p.refresh[r.PostForm.Get("refresh_token")]
		p.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if status >= http.StatusInternalServerError && code == "" {
			w.WriteHeader(status)
			return
		}
		if code != "" {
			if status == 0 {
				status = http.StatusBadRequest
			}
			writeError(w, status, code)
			return
		}
		if !known {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		p.mu.Lock()
		rotate := p.RotateRefresh
		p.mu.Unlock()
		p.writeToken(w, rotate)

	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (p *Provider) writeToken(w http.ResponseWriter, withRefresh bool) {
	p.mu.Lock()
	ttl, roles, omit := p.AccessTTL, slices.Clone(p.Roles), p.OmitExpiresIn
	p.mu.Unlock()

	resp := map[string]any{
		"access_token": p.AccessToken(ttl, roles...),
		"token_type":   "Bearer",
	}
	if !omit {
		resp["expires_in"] = int(ttl.Seconds())
	}
	if withRefresh {
		resp["refresh_token"] = p.IssueRefreshToken()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
