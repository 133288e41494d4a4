// Package shell 操作员命令行，代替面板上的てこ与按钮输入
package shell

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/statesync"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

// Console shell 驱动的控制台操作
type Console interface {
	SendLever(ctx context.Context, d model.LeverData) error
	SendKeyLever(ctx context.Context, d model.KeyLeverData) (bool, error)
	SendDestinationButton(ctx context.Context, d model.DestinationButtonData) error
	Reconnect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	State() remote.State
	Token() token.Token
	Model() *model.Model
}

// Terminal 行输入与输出
type Terminal interface {
	ReadLine(ctx context.Context) (string, error)
	Printf(format string, args ...any)
}

// errQuit 操作员退出
var errQuit = errors.New("quit")

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, args []string) error
}

// Shell 命令循环
type Shell struct {
	console  Console
	term     Terminal
	logger   logger.Logger
	now      func() time.Time
	commands map[string]command
}

// New 创建命令行
func New(c Console, term Terminal, l logger.Logger) *Shell {
	if l == nil {
		l = logger.NewNoop()
	}
	s := &Shell{console: c, term: term, logger: l, now: time.Now}
	s.commands = map[string]command{
		"lever":      {usage: "lever <名称> <L|C|R>", args: 2, run: s.lever},
		"key":        {usage: "key <名称> <L|C|R> <in|out>", args: 3, run: s.key},
		"button":     {usage: "button <名称> <up|down>", args: 2, run: s.button},
		"status":     {usage: "status", run: s.status},
		"alarm":      {usage: "alarm <方向てこ>", args: 1, run: s.alarm},
		"connect":    {usage: "connect", run: s.connect},
		"disconnect": {usage: "disconnect", run: s.disconnect},
		"help":       {usage: "help", run: s.help},
		"quit":       {usage: "quit", run: func(context.Context, []string) error { return errQuit }},
	}
	return s
}

// Run 读取并执行命令，直到 quit、输入结束或 ctx 取消
func (s *Shell) Run(ctx context.Context) error {
	s.term.Printf("输入 help 查看命令\n")
	for {
		s.term.Printf("> ")
		line, err := s.term.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.logger.Debug("命令执行失败", "line", line, "error", err)
			s.term.Printf("错误: %v\n", err)
		}
	}
}

// Execute 执行一行命令
func (s *Shell) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := s.commands[name]
	if !ok {
		return errors.Newf("未知命令 %q", fields[0])
	}
	if len(fields)-1 != cmd.args {
		return errors.Newf("用法: %s", cmd.usage)
	}
	return cmd.run(ctx, fields[1:])
}

func (s *Shell) lever(ctx context.Context, args []string) error {
	pos, err := model.ParsePosition(args[1])
	if err != nil {
		return err
	}
	if err := s.console.SendLever(ctx, model.LeverData{Name: args[0], State: pos}); err != nil {
		return err
	}
	s.term.Printf("てこ %s -> %s\n", args[0], pos)
	return nil
}

func (s *Shell) key(ctx context.Context, args []string) error {
	pos, err := model.ParsePosition(args[1])
	if err != nil {
		return err
	}
	var inserted bool
	switch strings.ToLower(args[2]) {
	case "in":
		inserted = true
	case "out":
	default:
		return errors.Newf("插键状态应为 in 或 out: %q", args[2])
	}

	accepted, err := s.console.SendKeyLever(ctx, model.KeyLeverData{Name: args[0], State: pos, IsKeyInserted: inserted})
	if err != nil {
		return err
	}
	if !accepted {
		s.term.Printf("鍵てこ %s 操作被拒绝\n", args[0])
		return nil
	}
	s.term.Printf("鍵てこ %s -> %s (%s)\n", args[0], pos, args[2])
	return nil
}

func (s *Shell) button(ctx context.Context, args []string) error {
	var raised bool
	switch strings.ToLower(args[1]) {
	case "up":
		raised = true
	case "down":
	default:
		return errors.Newf("按钮状态应为 up 或 down: %q", args[1])
	}

	d := model.DestinationButtonData{Name: args[0], IsRaised: raised, OperatedAt: s.now()}
	if err := s.console.SendDestinationButton(ctx, d); err != nil {
		return err
	}
	s.term.Printf("着点按钮 %s -> %s\n", args[0], args[1])
	return nil
}

func (s *Shell) status(context.Context, []string) error {
	tok := s.console.Token()
	s.term.Printf("连接: %s (connected=%v)\n", s.console.State(), s.console.Connected())
	if tok.IsZero() {
		s.term.Printf("令牌: 未登录\n")
	} else {
		s.term.Printf("令牌: 过期时间 %s\n", tok.ExpiresAt.Format(time.DateTime))
	}

	snap := s.console.Model().Snapshot()
	for _, l := range snap.Levers {
		s.term.Printf("  てこ %-8s %s\n", l.Name, l.State)
	}
	for _, k := range snap.KeyLevers {
		s.term.Printf("  鍵てこ %-8s %s key=%v\n", k.Name, k.State, k.IsKeyInserted)
	}
	for _, d := range snap.Directions {
		s.term.Printf("  方向 %-8s %s alarm_played=%v\n", d.Name, d.State, d.AlarmPlayed)
	}
	for _, b := range snap.Buttons {
		s.term.Printf("  按钮 %-8s raised=%v\n", b.Name, b.IsRaised)
	}

	pending := s.console.Model().PendingAlarms()
	names := make([]string, 0, len(pending))
	for _, d := range pending {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		s.term.Printf("未确认报警: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func (s *Shell) alarm(_ context.Context, args []string) error {
	if _, ok := s.console.Model().Direction(args[0]); !ok {
		return errors.Newf("方向てこ %q 不存在", args[0])
	}
	s.console.Model().MarkAlarmPlayed(args[0])
	s.term.Printf("方向てこ %s 报警已确认\n", args[0])
	return nil
}

func (s *Shell) connect(ctx context.Context, _ []string) error {
	if s.console.Connected() {
		s.term.Printf("已连接\n")
		return nil
	}
	if err := s.console.Reconnect(ctx); err != nil {
		return err
	}
	s.term.Printf("连接: %s\n", s.console.State())
	return nil
}

func (s *Shell) disconnect(ctx context.Context, _ []string) error {
	if err := s.console.Disconnect(ctx); err != nil {
		return err
	}
	s.term.Printf("已断开\n")
	return nil
}

func (s *Shell) help(context.Context, []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.term.Printf("  %s\n", s.commands[name].usage)
	}
	return nil
}

// ModelChanged 打印需要操作员注意的变化
func (s *Shell) ModelChanged(ch statesync.Change) {
	for _, name := range ch.DirectionAlarms {
		s.term.Printf("\n[报警] 方向てこ %s 状态变化，输入 alarm %s 确认\n", name, name)
	}
	for _, name := range ch.ReleasedButtons {
		s.term.Printf("\n[按钮] 着点按钮 %s 已落下\n", name)
	}
}

var _ statesync.Listener = (*Shell)(nil)
