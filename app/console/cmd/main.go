package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/console"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/metrics"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/prompt"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/shell"
	"github.com/lk2023060901/xdooria-interlock/pkg/app"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/lk2023060901/xdooria-interlock/pkg/prometheus"
	"github.com/panjf2000/ants/v2"
)

// Config 联锁控制台配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// 会话：认证、通道、重连
	Console console.Config `mapstructure:"console"`

	// 指标
	Metrics    metrics.Config    `mapstructure:"metrics"`
	Prometheus prometheus.Config `mapstructure:"prometheus"`

	// PoolSize 通道读写协程池大小
	PoolSize int `mapstructure:"pool_size"`
	// Headless 不读取终端输入，需要操作员决定时一律放弃
	Headless bool `mapstructure:"headless"`
}

func main() {
	var cfg Config

	// 1. 加载配置
	mgr, err := app.LoadConfig(&cfg)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		panic(err)
	}
	logger.SetDefault(l)
	defer l.Sync()

	// 3. 配置文件变更时热更新日志级别
	if err := mgr.Watch(func(path string) {
		var next Config
		if err := mgr.Unmarshal(&next); err != nil {
			l.Warn("重新加载配置失败", "path", path, "error", err)
			return
		}
		if err := l.SetLevel(next.Log.Level); err != nil {
			l.Warn("日志级别无效", "level", next.Log.Level, "error", err)
			return
		}
		l.Info("日志级别已更新", "level", next.Log.Level)
	}); err != nil {
		l.Warn("无法监听配置文件", "error", err)
	}

	// 4. 指标
	prom, err := prometheus.New(&cfg.Prometheus, prometheus.WithLogger(l.Named("prometheus")))
	if err != nil {
		l.Error("创建 prometheus 客户端失败", "error", err)
		return
	}
	cm, err := metrics.New(&cfg.Metrics)
	if err != nil {
		l.Error("创建控制台指标失败", "error", err)
		return
	}
	if err := cm.Register(prom.Registerer()); err != nil {
		l.Error("注册控制台指标失败", "error", err)
		return
	}

	// 5. 通道读写协程池
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 64
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		l.Error("创建协程池失败", "error", err)
		return
	}

	// 6. 控制台上下文
	term := prompt.NewTerminal(os.Stdin, os.Stdout)
	var prompter prompt.Prompter = term
	if cfg.Headless {
		prompter = prompt.Static{}
	}

	c, err := console.New(&cfg.Console,
		console.WithLogger(l),
		console.WithPrompter(prompter),
		console.WithMetrics(cm),
		console.WithWorkerPool(pool),
	)
	if err != nil {
		l.Error("创建控制台失败", "error", err)
		return
	}

	sh := shell.New(c, term, l.Named("shell"))
	if !cfg.Headless {
		c.Subscribe(sh)
	}

	// 7. 创建应用
	application := app.NewBaseApp(
		app.WithName("interlock-console"),
		app.WithLogger(l),
	)
	application.AppendServer(prom)
	application.AppendCloser(&poolCloser{pool: pool}, prom, c)

	// 8. 运行
	err = application.Run(context.Background(),
		c.Status().Run,
		watchStatus(c, l),
		func(ctx context.Context) error {
			if err := c.Authorize(ctx); err != nil {
				l.Error("登录失败", "error", err)
			}
			if cfg.Headless {
				<-ctx.Done()
				return nil
			}
			return sh.Run(ctx)
		},
	)
	if err != nil {
		l.Error("控制台异常退出", "error", err)
	}
}

// watchStatus 记录连接状态变化
func watchStatus(c *console.Console, l logger.Logger) app.Runner {
	return func(ctx context.Context) error {
		updates, cancel := c.Status().Subscribe()
		defer cancel()

		last := c.Status().Connected()
		for {
			select {
			case <-ctx.Done():
				return nil
			case connected := <-updates:
				if connected == last {
					continue
				}
				last = connected
				l.Info("连接状态变化", "connected", connected, "state", c.State())
			}
		}
	}
}

type poolCloser struct {
	pool *ants.Pool
}

func (p *poolCloser) Close() error {
	p.pool.Release()
	return nil
}
