// Package hubtest 提供测试用的 Hub 服务端
package hubtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lk2023060901/xdooria-interlock/pkg/hub"
	"github.com/lk2023060901/xdooria-interlock/pkg/serializer"
)

// InvokeFunc 服务端方法实现，返回值会编码为 completion 负载
type InvokeFunc func(payload hub.Payload) (any, error)

// Server 基于 httptest 的 Hub 服务端
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	methods  map[string]InvokeFunc
	conns    map[*serverConn]struct{}
	tokens   []string
	rejectFn func(r *http.Request) int

	connects atomic.Int32
}

type serverConn struct {
	ws    *websocket.Conn
	codec serializer.Serializer
	wmu   sync.Mutex
}

// NewServer 启动测试服务端
func NewServer() *Server {
	s := &Server{
		methods: make(map[string]InvokeFunc),
		conns:   make(map[*serverConn]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Address 返回 http 地址，供 hub.Config.Address 使用
func (s *Server) Address() string {
	return s.URL
}

// Handle 注册服务端方法
func (s *Server) Handle(target string, fn InvokeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[target] = fn
}

// RejectWith 握手阶段按返回的状态码拒绝，返回 0 表示放行
func (s *Server) RejectWith(fn func(r *http.Request) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectFn = fn
}

// Connects 成功升级的连接次数
func (s *Server) Connects() int {
	return int(s.connects.Load())
}

// Tokens 按顺序返回握手时收到的 access_token
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// ActiveConns 当前连接数
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push 向所有连接推送
func (s *Server) Push(target string, v any) {
	for _, sc := range s.snapshot() {
		payload, err := sc.codec.Serialize(v)
		if err != nil {
			continue
		}
		sc.write(&hub.Frame{Type: hub.FramePush, Target: target, Payload: payload})
	}
}

// Drop 异常断开所有连接（不发送关闭帧）
func (s *Server) Drop() {
	for _, sc := range s.snapshot() {
		sc.ws.UnderlyingConn().Close()
	}
}

// CloseWithError 发送带错误的关闭帧后断开所有连接
func (s *Server) CloseWithError(msg string) {
	for _, sc := range s.snapshot() {
		sc.write(&hub.Frame{Type: hub.FrameClose, Error: msg})
		sc.wmu.Lock()
		_ = sc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		sc.wmu.Unlock()
		sc.ws.Close()
	}
}

func (s *Server) snapshot() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		out = append(out, sc)
	}
	return out
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/hub/interlocking") {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	reject := s.rejectFn
	s.tokens = append(s.tokens, r.URL.Query().Get("access_token"))
	s.mu.Unlock()

	if reject != nil {
		if code := reject(r); code != 0 {
			w.WriteHeader(code)
			return
		}
	}

	codec, err := serializer.ByName(r.URL.Query().Get("protocol"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{ws: ws, codec: codec}

	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	s.connects.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f hub.Frame
		if err := codec.Deserialize(data, &f); err != nil || f.Type != hub.FrameInvocation {
			continue
		}
		go s.invoke(sc, &f)
	}
}

func (s *Server) invoke(sc *serverConn, f *hub.Frame) {
	s.mu.Lock()
	fn, ok := s.methods[f.Target]
	s.mu.Unlock()

	reply := &hub.Frame{Type: hub.FrameCompletion, InvocationID: f.InvocationID}
	if !ok {
		reply.Error = "unknown method " + f.Target
		sc.write(reply)
		return
	}

	result, err := fn(hub.NewPayload(f.Payload, sc.codec))
	if err != nil {
		reply.Error = err.Error()
	} else if result != nil {
		payload, err := sc.codec.Serialize(result)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Payload = payload
		}
	}
	sc.write(reply)
}

func (sc *serverConn) write(f *hub.Frame) {
	data, err := sc.codec.Serialize(f)
	if err != nil {
		return
	}
	mt := websocket.TextMessage
	if sc.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_ = sc.ws.WriteMessage(mt, data)
}
