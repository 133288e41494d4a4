package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAppAlreadyRunning = errors.New("application is already running")
)

// Server 定义了后台服务接口（如 metrics HTTP）
type Server interface {
	Start() error
	Stop() error
}

// Closer 定义了资源清理接口
type Closer interface {
	Close() error
}

// Runner 前台任务，返回即触发应用退出
type Runner func(ctx context.Context) error

// BaseApp 应用生命周期：启动服务、运行任务、逆序清理
type BaseApp struct {
	opts    Options
	logger  logger.Logger
	servers []Server
	closers []Closer

	mu      sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
}

// NewBaseApp 创建一个新的 BaseApp 实例
func NewBaseApp(opts ...Option) *BaseApp {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BaseApp{
		opts:   o,
		logger: o.Logger.Named(o.Name),
	}
}

// Logger 应用主日志对象
func (a *BaseApp) Logger() logger.Logger {
	return a.logger
}

// AppendServer 添加服务器
func (a *BaseApp) AppendServer(srv ...Server) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servers = append(a.servers, srv...)
}

// AppendCloser 添加资源清理组件，关闭时逆序执行
func (a *BaseApp) AppendCloser(closer ...Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer...)
}

// Run 启动服务并运行所有 Runner，直到任一 Runner 返回、收到信号或 ctx 取消
func (a *BaseApp) Run(ctx context.Context, runners ...Runner) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAppAlreadyRunning
	}

	info := GetInfo()
	if a.opts.Banner != nil {
		fmt.Fprintln(a.opts.Banner, info.String())
	}
	a.logger.Info("application starting", append(info.Fields(), "id", a.opts.ID)...)

	if a.opts.Signals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	a.mu.Lock()
	servers := append([]Server(nil), a.servers...)
	a.mu.Unlock()
	for _, srv := range servers {
		if err := srv.Start(); err != nil {
			a.logger.Error("failed to start server", "error", err)
			_ = a.Shutdown()
			return err
		}
	}

	if len(runners) == 0 {
		runners = []Runner{func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}}
	}

	// 任一 Runner 返回（包括正常返回）都会取消其余 Runner
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, r := range runners {
		run := r
		g.Go(func() error {
			defer cancel()
			return run(gctx)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		a.logger.Info("shutdown requested")
		runErr = a.waitRunners(done)
	}

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *BaseApp) waitRunners(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(a.opts.StopTimeout):
		a.logger.Warn("runners did not stop in time")
		return nil
	}
}

// Shutdown 停止服务并逆序关闭资源
func (a *BaseApp) Shutdown() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	servers := append([]Server(nil), a.servers...)
	closers := append([]Closer(nil), a.closers...)
	a.mu.Unlock()

	a.logger.Info("application shutting down")

	var g errgroup.Group
	for _, srv := range servers {
		s := srv
		g.Go(func() error {
			if err := s.Stop(); err != nil {
				a.logger.Error("failed to stop server", "error", err)
				return err
			}
			return nil
		})
	}

	stopped := make(chan error, 1)
	go func() { stopped <- g.Wait() }()

	var firstErr error
	select {
	case firstErr = <-stopped:
		a.logger.Info("all servers stopped")
	case <-time.After(a.opts.StopTimeout):
		a.logger.Warn("shutdown timeout, forcing exit")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			a.logger.Error("failed to close component", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	_ = a.logger.Sync()
	a.logger.Info("application exited")
	return firstErr
}
