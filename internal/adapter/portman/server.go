package portman

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/core/ports"
	"github.com/qapish/labman/internal/logger"
)

// StatusProvider yields the current node status for discover requests.
type StatusProvider func() domain.NodeStatus

// Server is the control-plane WS fabric: one /agent endpoint receiving
// protocol envelopes, one /observe endpoint fanning filtered copies out.
type Server struct {
	agents    *Agents
	observers *Observers
	metrics   ports.MetricsRecorder
	logger    *slog.Logger
	status    StatusProvider
	upgrader  websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

func NewServer(metrics ports.MetricsRecorder, status StatusProvider, log *slog.Logger) *Server {
	return &Server{
		agents:    NewAgents(),
		observers: NewObservers(metrics),
		metrics:   metrics,
		logger:    log.With(logger.ComponentKey, "portman"),
		status:    status,
		upgrader: websocket.Upgrader{
			// the fabric is only reachable over the tunnel
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Shutdown closes every live WS connection. http.Server.Shutdown does not
// track hijacked connections, so the fabric drops them itself.
func (s *Server) Shutdown() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	for ws := range s.conns {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			timeNowPlusWriteWait())
		_ = ws.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
}

func timeNowPlusWriteWait() time.Time {
	return time.Now().Add(time.Second)
}

func (s *Server) track(ws *websocket.Conn) {
	s.connsMu.Lock()
	s.conns[ws] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.connsMu.Lock()
	delete(s.conns, ws)
	s.connsMu.Unlock()
}

// Agents exposes the agent registry for discovery and tests.
func (s *Server) Agents() *Agents {
	return s.agents
}

// Observers exposes the observer registry for tests.
func (s *Server) Observers() *Observers {
	return s.observers
}

// Handler returns the WS fabric's HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", s.handleAgent)
	mux.HandleFunc("/observe", s.handleObserve)
	return mux
}

// handleAgent drives one agent connection: parse each text frame as an
// envelope, fan it out to observers, acknowledge with "ok".
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("agent WS upgrade failed", "peer", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()
	s.track(ws)
	defer s.untrack(ws)

	conn := s.agents.Add(r.RemoteAddr)
	alog := s.logger.With("connection_id", conn.ConnectionID, "peer", conn.PeerAddr)
	alog.Info("agent connected")

	defer func() {
		if rec := recover(); rec != nil {
			alog.Warn("agent connection panicked", "panic", rec)
		}
		s.agents.Remove(conn.ConnectionID)
		alog.Info("agent disconnected", "remaining", s.agents.Len())
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				alog.Warn("agent read error", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if !s.handleAgentFrame(ws, conn.ConnectionID, data, alog) {
				return
			}
		case websocket.BinaryMessage:
			alog.Warn("ignoring binary frame from agent")
		}
	}
}

// handleAgentFrame processes one text frame; returns false when the
// connection should terminate.
func (s *Server) handleAgentFrame(ws *websocket.Conn, connectionID uint64, data []byte, alog *slog.Logger) bool {
	env, err := ParseEnvelope(data)
	if err != nil {
		alog.Warn("invalid envelope", "error", err)
		s.metrics.RecordError("portman", string(domain.ErrKindInvalidEnvelope))

		errorEnv := NewErrorEnvelope("INVALID_ENVELOPE", err.Error())
		payload, merr := json.Marshal(errorEnv)
		if merr != nil {
			return false
		}
		if werr := ws.WriteMessage(websocket.TextMessage, payload); werr != nil {
			alog.Warn("failed to send error envelope", "error", werr)
			return false
		}
		return true
	}

	alog.Debug("envelope received",
		"msg_id", env.MsgID,
		"kind", env.Kind.String(),
		"direction", string(env.Direction))

	if env.Direction == DirectionUp && env.Kind == KindRegisterAgent && env.AgentID != "" {
		s.agents.SetAgentID(connectionID, env.AgentID)
	}

	s.observers.Broadcast(&env)

	if werr := ws.WriteMessage(websocket.TextMessage, []byte("ok")); werr != nil {
		alog.Warn("failed to send ack", "error", werr)
		return false
	}
	return true
}

// handleObserve drives one observer connection. The socket's write side is
// owned by a dedicated sender task fed from the registry outbox, so
// broadcasters never touch the socket.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("observer WS upgrade failed", "peer", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()
	s.track(ws)
	defer s.untrack(ws)

	id, outbox, done := s.observers.Add()
	olog := s.logger.With("observer_id", id, "peer", r.RemoteAddr)
	olog.Info("observer connected")

	defer func() {
		s.observers.Remove(id)
		olog.Info("observer disconnected")
	}()

	go func() {
		for {
			select {
			case msg := <-outbox:
				if werr := ws.WriteMessage(websocket.TextMessage, msg); werr != nil {
					olog.Debug("observer send loop error", "error", werr)
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			olog.Warn("ignoring binary frame from observer")
			continue
		}
		s.handleObserveCommand(id, data, olog)
	}
}

type observeCommand struct {
	Command     string   `json:"command"`
	Kinds       []string `json:"kinds"`
	KindsFilter []string `json:"kinds_filter"`
	What        string   `json:"what"`
}

func (s *Server) handleObserveCommand(id uint64, data []byte, olog *slog.Logger) {
	var cmd observeCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.reply(id, observeHelpPayload("failed to parse observe command: "+err.Error()))
		return
	}

	switch cmd.Command {
	case "subscribe":
		kinds := make([]StreamKind, 0, len(cmd.Kinds))
		for _, raw := range cmd.Kinds {
			kind, ok := ParseStreamKind(raw)
			if !ok {
				s.reply(id, observeHelpPayload("unknown stream kind: "+raw))
				return
			}
			kinds = append(kinds, kind)
		}

		s.observers.SetSubscription(id, kinds, cmd.KindsFilter)
		olog.Debug("subscription updated", "kinds", cmd.Kinds, "filter", cmd.KindsFilter)

		s.reply(id, map[string]any{
			"status":           "ok",
			"message":          "subscription updated",
			"subscribed_kinds": cmd.Kinds,
		})

	case "discover":
		if cmd.What == "node" && s.status != nil {
			s.reply(id, map[string]any{
				"status": "ok",
				"what":   "node",
				"node":   s.status(),
			})
			return
		}

		what := cmd.What
		if what == "" {
			what = "agents"
		}
		s.reply(id, map[string]any{
			"status": "ok",
			"what":   what,
			"agents": s.agents.List(),
		})

	default:
		s.reply(id, observeHelpPayload("unknown command: "+cmd.Command))
	}
}

// reply enqueues a response on the observer's outbox so command replies and
// broadcast frames share one FIFO writer.
func (s *Server) reply(id uint64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.observers.Send(id, data)
}

func observeHelpPayload(message string) map[string]any {
	return map[string]any{
		"status":             "error",
		"code":               "INVALID_OBSERVE_COMMAND",
		"message":            message,
		"valid_commands":     []string{"subscribe", "discover"},
		"valid_stream_kinds": []string{string(StreamAll), string(StreamByKind)},
		"subscribe_examples": []map[string]any{
			{"command": "subscribe", "kinds": []string{"all"}},
			{"command": "subscribe", "kinds": []string{"by_kind"}, "kinds_filter": []string{"register_agent", "heartbeat"}},
		},
	}
}
