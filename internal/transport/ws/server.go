package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
)

const (
	DefaultInterval = 250 * time.Millisecond
	minInterval     = 20 * time.Millisecond
	maxInterval     = 10 * time.Second

	writeTimeout     = 5 * time.Second
	handshakeTimeout = 5 * time.Second
	idleTimeout      = 60 * time.Second
	snapshotTimeout  = 10 * time.Second
)

// Worker is the part of the simulation worker exposed to observers.
type Worker interface {
	Statistics() engine.Statistics
	RequestSnapshot(ctx context.Context, upperLeft, lowerRight description.IntVector) (description.Data, error)
}

// Server streams worker statistics to websocket observers and answers
// snapshot requests.
type Server struct {
	worker   Worker
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(w Worker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		worker: w,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// StatsHandler serves the current statistics as a single JSON document.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(NewStatsMsg(s.worker.Statistics()))
	}
}

// WSHandler upgrades the connection. The client must send SUBSCRIBE first;
// STATS messages follow at the requested interval until the client leaves.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		var sub ClientMsg
		if err := conn.ReadJSON(&sub); err != nil {
			s.closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != TypeSubscribe || sub.ProtocolVersion != ProtocolVersion {
			s.closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan any, 16)
		intervals := make(chan time.Duration, 1)
		intervals <- normalizeInterval(sub.IntervalMS)

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, out, intervals) }()

		s.logger.Debug("Observer connected", "remote", r.RemoteAddr)
		s.readLoop(ctx, conn, out, intervals)
		cancel()

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.closeWith(conn, websocket.CloseNormalClosure, "bye")
		s.logger.Debug("Observer disconnected", "remote", r.RemoteAddr)
	}
}

// writeLoop is the only goroutine writing to conn.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan any, intervals <-chan time.Duration) error {
	ticker := time.NewTicker(<-intervals)
	defer ticker.Stop()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}
	if err := write(NewStatsMsg(s.worker.Statistics())); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-intervals:
			ticker.Reset(d)
		case <-ticker.C:
			if err := write(NewStatsMsg(s.worker.Statistics())); err != nil {
				return err
			}
		case msg := <-out:
			if err := write(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- any, intervals chan time.Duration) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				continue
			}
			return
		}

		switch msg.Type {
		case TypeSubscribe:
			select {
			case <-intervals:
			default:
			}
			intervals <- normalizeInterval(msg.IntervalMS)
		case TypeSnapshot:
			reply := s.snapshot(ctx, msg)
			select {
			case out <- reply:
			case <-ctx.Done():
				return
			}
		default:
			select {
			case out <- ErrorMsg{Type: TypeError, Message: "unknown message type " + msg.Type}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) snapshot(ctx context.Context, msg ClientMsg) any {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	data, err := s.worker.RequestSnapshot(ctx, msg.UpperLeft, msg.LowerRight)
	if err != nil {
		s.logger.Warn("Observer snapshot failed", "error", err)
		return ErrorMsg{Type: TypeError, Message: err.Error()}
	}
	return SnapshotMsg{
		Type:     TypeSnapshot,
		Timestep: s.worker.Statistics().Timestep,
		Data:     data,
	}
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func normalizeInterval(ms int) time.Duration {
	if ms <= 0 {
		return DefaultInterval
	}
	d := time.Duration(ms) * time.Millisecond
	return min(max(d, minInterval), maxInterval)
}
