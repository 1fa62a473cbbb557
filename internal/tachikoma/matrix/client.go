// Package matrix adapts Matrix rooms into Tachikoma conversations: inbound
// room messages become turns, member joins open sessions, and dispatcher
// replies go back out as room messages.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Tachikoma/common/redact"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/dispatch"
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string // Room IDs where Tachikoma holds conversations
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts.  When nil, an in-memory store is
	// used and all room history will be replayed on every restart.
	DB *sql.DB
}

// TurnHandler processes one conversation event. It is the dispatcher surface
// the adapter needs; *dispatch.Dispatcher satisfies it.
type TurnHandler interface {
	HandleJoin(ctx context.Context, conversationID, userID string) dispatch.Reply
	HandleTurn(ctx context.Context, ev dispatch.TurnEvent) (dispatch.Reply, error)
}

// Client wraps the Matrix client
type Client struct {
	client  *mautrix.Client
	config  *Config
	handler TurnHandler
	logger  *slog.Logger
	stopCh  chan struct{}
}

// New creates a new Matrix client
func New(config *Config, handler TurnHandler, logger *slog.Logger) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		client:  client,
		config:  config,
		handler: handler,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Attach a persistent sync store so the bot resumes from the last known
	// position after a restart instead of replaying the full room history.
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		logger.Info("Matrix sync store: using persistent SQLite store")
	} else {
		logger.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return c, nil
}

// Start begins syncing with the Matrix homeserver
func (c *Client) Start(ctx context.Context) error {
	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMember)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Start syncing in background with exponential back-off reconnection.
	// Without retries a transient homeserver error would silently kill the
	// sync goroutine and leave the bot deaf to all new messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin // reset before each attempt
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				// Homeserver errors can echo the request URL, token included.
				c.logger.Error("Matrix sync stopped; reconnecting",
					"err", redact.String(err.Error(), c.config.AccessToken),
					"backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a text message to a room
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	_, err := c.client.SendText(ctx, id.RoomID(roomID), message)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice message (less intrusive than normal messages)
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// isConversationRoom checks if a room is configured for conversations
func (c *Client) isConversationRoom(roomID string) bool {
	for _, room := range c.config.Rooms {
		if room == roomID {
			return true
		}
	}
	return false
}

// conversationID scopes a session to one user within one room, so two users
// sharing a room never share a session log.
func conversationID(roomID id.RoomID, sender id.UserID) string {
	return roomID.String() + "/" + sender.String()
}

// handleMember opens a session when a user joins a conversation room.
func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	if !c.isConversationRoom(evt.RoomID.String()) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipJoin {
		return
	}

	reply := c.handler.HandleJoin(ctx, conversationID(evt.RoomID, evt.Sender), evt.Sender.String())
	c.deliver(ctx, evt.RoomID, reply)
}

// handleMessage turns an inbound room message into one dispatched turn.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	if !c.isConversationRoom(evt.RoomID.String()) {
		return
	}

	reply, err := c.handler.HandleTurn(ctx, dispatch.TurnEvent{
		Text:           msgContent.Body,
		ConversationID: conversationID(evt.RoomID, evt.Sender),
		UserID:         evt.Sender.String(),
	})
	if err != nil {
		c.logger.Error("turn failed", "room", evt.RoomID, "sender", evt.Sender, "err", err)
		return
	}

	c.deliver(ctx, evt.RoomID, reply)
}

// deliver sends a dispatcher reply into a room. The finish affordance has no
// button equivalent here; it is rendered as a notice hint.
func (c *Client) deliver(ctx context.Context, roomID id.RoomID, reply dispatch.Reply) {
	if reply.Text != "" {
		if err := c.SendMessage(ctx, roomID.String(), reply.Text); err != nil {
			c.logger.Error("failed to deliver reply", "room", roomID,
				"err", redact.String(err.Error(), c.config.AccessToken))
			return
		}
	}
	if reply.FinishAction {
		hint := fmt.Sprintf("Say %q at any time to close your session.", dispatch.FinishKeyword)
		if err := c.SendNotice(ctx, roomID.String(), hint); err != nil {
			c.logger.Warn("failed to deliver finish hint", "room", roomID, "err", err)
		}
	}
}

// joinRoom attempts to join a room
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a member
		// of the room. Use mautrix's typed error check instead of string matching.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
