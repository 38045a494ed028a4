// ABOUTME: Session wraps one live client connection — one struct per connection; its write pump is the only writer and serializes writes.
// ABOUTME: Adapted from the teacher's agent.Connection shape (id, Send/Close): a single write pump fed through the broadcaster stands in for Send and its mutex.

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/chat-core/internal/broadcaster"
)

// outboundBufferSize bounds each session's outbound queue (§5 backpressure:
// "each outbound session queue has a bounded capacity").
const outboundBufferSize = 256

const (
	readLimit   = 64 * 1024
	writeWait   = 10 * time.Second
	pingTimeout = 5 * time.Second
)

// Session is one authenticated duplex connection. It owns the websocket,
// subscribes to its own outbound channel on the Gateway's broadcaster, and
// runs a reader and a writer loop for the lifetime of the connection.
type Session struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	out    <-chan *broadcaster.Envelope
	subID  string
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	subscribedMu sync.Mutex
	subscribed   map[string]bool // conversation ids this session's live view is joined to

	// onDelivered fires after a message-kind frame is actually flushed to the
	// socket, naming the message and the recipient so the caller can advance
	// the Delivery Tracker to `delivered` (§4.4 Open Question #2). Nil is a
	// valid no-op for sessions that don't need the confirmation, e.g. tests.
	onDelivered func(ctx context.Context, messageID, recipientID string)
}

func newSession(ctx context.Context, id, userID string, conn *websocket.Conn, bc *broadcaster.Broadcaster, logger *slog.Logger, onDelivered func(ctx context.Context, messageID, recipientID string)) *Session {
	out, subID := bc.Subscribe(ctx, id)
	return &Session{
		ID:          id,
		UserID:      userID,
		conn:        conn,
		out:         out,
		subID:       subID,
		logger:      logger.With("session_id", id, "user_id", userID),
		closed:      make(chan struct{}),
		subscribed:  make(map[string]bool),
		onDelivered: onDelivered,
	}
}

// writePump drains the broadcaster channel and writes frames to the
// transport in enqueue order, serializing writes the way the teacher's
// Connection.Send does against its gRPC stream.
func (s *Session) writePump(ctx context.Context) {
	for {
		select {
		case env, ok := <-s.out:
			if !ok {
				return
			}
			payload, ok := env.Payload.([]byte)
			if !ok {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := s.conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.logger.Debug("write failed, closing session", "error", err)
				return
			}
			if env.MessageID != "" && s.onDelivered != nil {
				s.onDelivered(ctx, env.MessageID, s.UserID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop blocks reading frames until the transport closes or ctx is
// canceled. handle is invoked once per inbound frame.
func (s *Session) readLoop(ctx context.Context, handle func(ctx context.Context, data []byte)) {
	s.conn.SetReadLimit(readLimit)
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		handle(ctx, data)
	}
}

// markJoined/markLeft track the session's live-view subscription set, used
// to decide whether a conversation-presence frame is worth emitting.
func (s *Session) markJoined(conversationID string) bool {
	s.subscribedMu.Lock()
	defer s.subscribedMu.Unlock()
	if s.subscribed[conversationID] {
		return false
	}
	s.subscribed[conversationID] = true
	return true
}

func (s *Session) markLeft(conversationID string) bool {
	s.subscribedMu.Lock()
	defer s.subscribedMu.Unlock()
	if !s.subscribed[conversationID] {
		return false
	}
	delete(s.subscribed, conversationID)
	return true
}

// close tears down the transport exactly once. Safe to call from both the
// read and write pumps.
func (s *Session) close(bc *broadcaster.Broadcaster, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		bc.Unsubscribe(s.ID, s.subID)
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
	})
}
