// ABOUTME: WebSocket endpoint speaking the push action protocol
// ABOUTME: One goroutine reads actions, one drains the session's event channel

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/deskline/livechat/internal/delivery"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/fault"
	"github.com/deskline/livechat/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Widget embeds run on customer domains; origin allow-listing happens
	// at the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// Client-initiated actions.
const (
	actionSendMessage       = "send_message"
	actionTypingStart       = "typing_start"
	actionTypingStop        = "typing_stop"
	actionJoinConversation  = "join_conversation"
	actionLeaveConversation = "leave_conversation"
)

type wsAction struct {
	Action         string            `json:"action"`
	ConversationID int64             `json:"conversation_id"`
	Content        string            `json:"content,omitempty"`
	Type           string            `json:"type,omitempty"`
	Attachment     *store.Attachment `json:"attachment,omitempty"`
}

type wsReply struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	p := participant(c)
	connID := uuid.NewString()
	wc := &wsConn{
		server:  s,
		conn:    conn,
		connID:  connID,
		writeCh: make(chan any, 32),
	}
	s.logger.Info("websocket connected", "conn_id", connID, "role", p.Role)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		s.coord.Leave(ctx, connID)
		conn.Close()
		s.logger.Info("websocket disconnected", "conn_id", connID)
	}()

	go wc.writePump(ctx)
	wc.readActions(ctx, p)
	return nil
}

type wsConn struct {
	server *Server
	conn   *websocket.Conn
	connID string
	pumped *delivery.Session // session the event pump is draining

	// writes are serialized between the reader replies and the event pump
	writeCh chan any
}

func (w *wsConn) readActions(ctx context.Context, p directory.Participant) {
	w.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		w.server.registry.Touch(w.connID, 0)
		return nil
	})

	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		var action wsAction
		if err := json.Unmarshal(payload, &action); err != nil {
			w.send(wsReply{Success: false, Message: "invalid action payload"})
			continue
		}
		w.dispatch(ctx, p, action)
	}
}

func (w *wsConn) dispatch(ctx context.Context, p directory.Participant, action wsAction) {
	coord := w.server.coord
	switch action.Action {
	case actionSendMessage:
		msg, err := coord.Send(ctx, p, delivery.SendRequest{
			ConversationID: action.ConversationID,
			Content:        action.Content,
			Type:           action.Type,
			Attachment:     action.Attachment,
			ConnID:         w.connID,
		})
		if err != nil {
			w.sendErr(action.Action, err)
			return
		}
		w.send(wsReply{Success: true, Action: action.Action, Data: messageToJSON(msg)})

	case actionJoinConversation:
		res, err := coord.Join(ctx, p, action.ConversationID, w.connID)
		if err != nil {
			w.sendErr(action.Action, err)
			return
		}
		w.send(wsReply{Success: true, Action: action.Action, Data: map[string]any{
			"conversation": conversationToJSON(res.Conversation),
			"unread":       res.Unread,
			"active":       res.Active,
		}})
		// A re-join of the same conversation keeps the existing session;
		// only a fresh session needs a new pump.
		if sess := w.server.registry.Session(w.connID); sess != nil && sess != w.pumped {
			w.pumped = sess
			go w.pumpEvents(ctx, sess)
		}

	case actionLeaveConversation:
		coord.Leave(ctx, w.connID)
		w.send(wsReply{Success: true, Action: action.Action})

	case actionTypingStart, actionTypingStop:
		coord.Typing(ctx, p, action.ConversationID, w.connID, action.Action == actionTypingStart)

	default:
		w.sendErr(action.Action, fault.InvalidArgument("unknown action %q", action.Action))
	}
}

// pumpEvents forwards registry fan-out to the socket until the session is
// unregistered or the connection drops.
func (w *wsConn) pumpEvents(ctx context.Context, sess *delivery.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			w.send(ev)
		}
	}
}

// writePump is the only writer on the connection; replies, fan-out, and
// pings all funnel through it.
func (w *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.writeCh:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := w.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *wsConn) send(msg any) {
	select {
	case w.writeCh <- msg:
	default:
		w.server.logger.Warn("websocket write queue full", "conn_id", w.connID)
	}
}

func (w *wsConn) sendErr(action string, err error) {
	w.send(wsReply{Success: false, Action: action, Message: fault.Message(err)})
}
