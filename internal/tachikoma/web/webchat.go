package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/dispatch"
)

// TurnHandler is the dispatcher surface the webchat needs;
// *dispatch.Dispatcher satisfies it.
type TurnHandler interface {
	HandleJoin(ctx context.Context, conversationID, userID string) dispatch.Reply
	HandleTurn(ctx context.Context, ev dispatch.TurnEvent) (dispatch.Reply, error)
}

// inboundFrame is one client message. Type "message" is a plain utterance;
// "postback" is the finish-button press and terminates the session no matter
// what text it carries.
type inboundFrame struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	UserID string `json:"userId"`
}

// outboundFrame is one server message. Type "reply" carries the answer text
// and whether the finish affordance should be shown; "session_end" tells the
// client to close the widget.
type outboundFrame struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	FinishAction bool   `json:"finishAction,omitempty"`
}

// Webchat upgrades /ws/{conversationID} connections and pumps frames through
// the dispatcher. One connection is one conversation; the first frame's
// userId binds the user for the greeting.
type Webchat struct {
	handler  TurnHandler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWebchat creates the websocket channel adapter.
func NewWebchat(handler TurnHandler, logger *slog.Logger) *Webchat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webchat{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handle serves one webchat connection.
func (wc *Webchat) Handle(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, "conversationID is required", http.StatusBadRequest)
		return
	}

	conn, err := wc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wc.logger.Warn("webchat upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	joined := false

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wc.logger.Warn("webchat read failed", "conversation_id", conversationID, "err", err)
			}
			return
		}
		if frame.UserID == "" {
			wc.writeFrame(conn, outboundFrame{Type: "error", Text: "userId is required"})
			continue
		}

		// The greeting fires once, on the first frame from the user.
		if !joined {
			joined = true
			greeting := wc.handler.HandleJoin(ctx, conversationID, frame.UserID)
			wc.writeFrame(conn, outboundFrame{
				Type:         "reply",
				Text:         greeting.Text,
				FinishAction: greeting.FinishAction,
			})
		}

		reply, err := wc.handler.HandleTurn(ctx, dispatch.TurnEvent{
			Text:           frame.Text,
			Postback:       frame.Type == "postback",
			ConversationID: conversationID,
			UserID:         frame.UserID,
		})
		if err != nil {
			wc.logger.Error("turn failed", "conversation_id", conversationID, "err", err)
			wc.writeFrame(conn, outboundFrame{Type: "error", Text: "something went wrong, please try again"})
			continue
		}

		if reply.SessionEnded {
			wc.writeFrame(conn, outboundFrame{Type: "reply", Text: reply.Text})
			wc.writeFrame(conn, outboundFrame{Type: "session_end"})
			return
		}

		wc.writeFrame(conn, outboundFrame{
			Type:         "reply",
			Text:         reply.Text,
			FinishAction: reply.FinishAction,
		})
	}
}

func (wc *Webchat) writeFrame(conn *websocket.Conn, frame outboundFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		wc.logger.Warn("webchat write failed", "err", err)
	}
}
