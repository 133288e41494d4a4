// Package auth 浏览器委托的交互式登录与刷新令牌续期
package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/metrics"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/lk2023060901/xdooria-interlock/pkg/security"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Opener 在系统浏览器中打开授权地址
type Opener func(url string) error

// Option Session 选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithOpener 替换浏览器打开方式
func WithOpener(o Opener) Option {
	return func(s *Session) {
		s.opener = o
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.ConsoleMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session 认证会话，成功后写入 token.Store
type Session struct {
	config     *Config
	store      *token.Store
	logger     logger.Logger
	opener     Opener
	httpClient *http.Client
	metrics    *metrics.ConsoleMetrics

	refreshGroup singleflight.Group
}

// New 创建认证会话
func New(cfg *Config, store *token.Store, opts ...Option) (*Session, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "merge auth config")
	}
	if err := newCfg.normalize(); err != nil {
		return nil, errors.Mark(err, ErrInvalidConfig)
	}

	s := &Session{
		config: newCfg,
		store:  store,
		logger: logger.NewNoop(),
		opener: browser.OpenURL,

		httpClient: &http.Client{Timeout: newCfg.HTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store 令牌存储
func (s *Session) Store() *token.Store {
	return s.store
}

func (s *Session) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       s.config.scopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.config.AuthURL,
			TokenURL:  s.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

type callbackResult struct {
	code string
	err  error
}

// AuthenticateInteractive 打开浏览器完成授权码 + PKCE 流程
func (s *Session) AuthenticateInteractive(ctx context.Context) (token.Token, error) {
	addr := net.JoinHostPort(s.config.RedirectHost, strconv.Itoa(s.config.RedirectPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return token.Token{}, errors.Mark(errors.Wrapf(err, "listen callback %s", addr), ErrUnknown)
	}

	redirectURL := "http://" + ln.Addr().String() + s.config.CallbackPath
	oc := s.oauthConfig(redirectURL)
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           s.callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("登录回调服务异常退出", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := oc.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	s.logger.Info("打开浏览器进行登录", "redirect", redirectURL)
	if err := s.opener(authURL); err != nil {
		s.logger.Warn("无法打开浏览器，请手动访问登录地址", "url", authURL, "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.LoginTimeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return token.Token{}, classify(waitCtx.Err(), "wait for login callback")
	}
	if res.err != nil {
		return token.Token{}, classify(res.err, "login callback")
	}

	exchangeCtx, cancelExchange := context.WithTimeout(s.clientContext(ctx), s.config.HTTPTimeout)
	defer cancelExchange()
	ot, err := oc.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return token.Token{}, classify(err, "exchange authorization code")
	}

	tok, err := s.convert(ot)
	if err != nil {
		return token.Token{}, err
	}
	s.store.Set(tok)
	s.logger.Info("登录成功", "expires_at", tok.ExpiresAt, "has_refresh", tok.HasRefresh())
	return tok, nil
}

func (s *Session) callbackHandler(state string, results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		var res callbackResult
		if code := q.Get("error"); code != "" {
			res.err = &ProtocolError{Code: code, Description: q.Get("error_description")}
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, "登录失败，请关闭此页面。")
		} else if code := q.Get("code"); code != "" {
			res.code = code
			fmt.Fprintln(w, "登录完成，请关闭此页面并返回控制台。")
		} else {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		select {
		case results <- res:
		default:
		}
	})
	return mux
}

// Refresh 使用刷新令牌换取新令牌；并发调用合并为一次请求
func (s *Session) Refresh(ctx context.Context, tok token.Token) (token.Token, error) {
	if !tok.HasRefresh() {
		s.metrics.ObserveRefresh("invalid_grant")
		return token.Token{}, errors.Mark(errors.New("refresh token is not set"), ErrInvalidGrant)
	}

	ch := s.refreshGroup.DoChan(tok.RefreshToken, func() (any, error) {
		// 共享请求不随单个调用方取消
		base := context.WithoutCancel(s.clientContext(ctx))
		reqCtx, cancel := context.WithTimeout(base, s.config.HTTPTimeout)
		defer cancel()

		src := s.oauthConfig("").TokenSource(reqCtx, &oauth2.Token{
			RefreshToken: tok.RefreshToken,
			Expiry:       time.Unix(1, 0),
		})
		ot, err := src.Token()
		if err != nil {
			return nil, classify(err, "refresh token")
		}
		next, err := s.convert(ot)
		if err != nil {
			return nil, err
		}
		return s.store.Renew(next), nil
	})

	select {
	case r := <-ch:
		s.metrics.ObserveRefresh(Kind(r.Err))
		if r.Err != nil {
			s.logger.Warn("令牌刷新失败", "kind", Kind(r.Err), "error", r.Err)
			return token.Token{}, r.Err
		}
		next := r.Val.(token.Token)
		s.logger.Info("令牌已刷新", "expires_at", next.ExpiresAt, "shared", r.Shared)
		return next, nil
	case <-ctx.Done():
		return token.Token{}, classify(ctx.Err(), "refresh token")
	}
}

// convert 校验角色并确定过期时间：优先 expires_in，其次访问令牌的 exp 声明
func (s *Session) convert(ot *oauth2.Token) (token.Token, error) {
	if ot == nil || ot.AccessToken == "" {
		return token.Token{}, errors.Mark(errors.New("token response without access token"), ErrUnknown)
	}

	tok := token.Token{
		AccessToken:  ot.AccessToken,
		RefreshToken: ot.RefreshToken,
		ExpiresAt:    ot.Expiry,
	}

	claims, inspectErr := security.Inspect(ot.AccessToken)
	if tok.ExpiresAt.IsZero() && inspectErr == nil && claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	if tok.ExpiresAt.IsZero() {
		s.logger.Warn("令牌未提供过期时间，按已过期处理")
	}

	if role := s.config.RequiredRole; role != "" {
		if inspectErr != nil {
			return token.Token{}, errors.Mark(errors.Wrap(inspectErr, "inspect access token"), ErrDenied)
		}
		if !claims.HasString(s.config.RoleClaim, role) {
			return token.Token{}, errors.Mark(errors.Newf("access token lacks role %q", role), ErrDenied)
		}
	}
	return tok, nil
}
