// Package prompt 需要操作员决定的交互
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// Prompter 操作员交互
type Prompter interface {
	// Alert 仅确认的提示
	Alert(ctx context.Context, title, msg string)
	// AskRetry 重试 / 放弃，返回 true 表示重试
	AskRetry(ctx context.Context, title, msg string) bool
	// ConfirmReauth 刷新令牌失效后是否重新登录
	ConfirmReauth(ctx context.Context) bool
}

// Terminal 基于行输入的交互，同时为 shell 提供命令行读取
// 只有一个后台协程读取输入；有提问在等待时，下一行优先交给最早的提问
type Terminal struct {
	in  io.Reader
	out io.Writer

	wmu   sync.Mutex
	once  sync.Once
	lines chan string

	mu      sync.Mutex
	pending []chan string
	wake    chan struct{}
	closed  bool
}

// NewTerminal 创建终端交互
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    in,
		out:   out,
		lines: make(chan string),
		wake:  make(chan struct{}, 1),
	}
}

func (t *Terminal) start() {
	t.once.Do(func() {
		go func() {
			sc := bufio.NewScanner(t.in)
			for sc.Scan() {
				t.deliver(sc.Text())
			}
			t.shutdown()
		}()
	})
}

func (t *Terminal) deliver(line string) {
	for {
		t.mu.Lock()
		if len(t.pending) > 0 {
			ch := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			ch <- line
			return
		}
		t.mu.Unlock()

		select {
		case t.lines <- line:
			return
		case <-t.wake:
		}
	}
}

func (t *Terminal) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, ch := range t.pending {
		close(ch)
	}
	t.pending = nil
	close(t.lines)
}

// answer 登记一个提问并等待下一行输入
func (t *Terminal) answer(ctx context.Context) (string, error) {
	t.start()

	ch := make(chan string, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", io.EOF
	}
	t.pending = append(t.pending, ch)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}

	select {
	case line, ok := <-ch:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		t.mu.Lock()
		if i := slices.Index(t.pending, ch); i >= 0 {
			t.pending = slices.Delete(t.pending, i, i+1)
		}
		t.mu.Unlock()
		return "", ctx.Err()
	}
}

// ReadLine 读取一行；输入结束返回 io.EOF
func (t *Terminal) ReadLine(ctx context.Context) (string, error) {
	t.start()
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Printf 串行写输出
func (t *Terminal) Printf(format string, args ...any) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// Alert 显示提示并等待回车
func (t *Terminal) Alert(ctx context.Context, title, msg string) {
	t.Printf("[%s] %s\n按回车继续\n", title, msg)
	_, _ = t.answer(ctx)
}

// AskRetry 输入 y/yes/r/retry 表示重试，其余（含取消与输入结束）表示放弃
func (t *Terminal) AskRetry(ctx context.Context, title, msg string) bool {
	return t.yesNo(ctx, fmt.Sprintf("[%s] %s\n重试? [y/N] ", title, msg), "r", "retry")
}

// ConfirmReauth 询问是否重新登录
func (t *Terminal) ConfirmReauth(ctx context.Context) bool {
	return t.yesNo(ctx, "登录已失效，是否重新登录? [y/N] ")
}

func (t *Terminal) yesNo(ctx context.Context, question string, extra ...string) bool {
	t.Printf("%s", question)
	line, err := t.answer(ctx)
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		return true
	}
	for _, e := range extra {
		if answer == e {
			return true
		}
	}
	return false
}

// Static 固定应答，用于无人值守运行
type Static struct {
	Retry  bool
	Reauth bool
}

func (s Static) Alert(context.Context, string, string) {}

func (s Static) AskRetry(context.Context, string, string) bool { return s.Retry }

func (s Static) ConfirmReauth(context.Context) bool { return s.Reauth }
