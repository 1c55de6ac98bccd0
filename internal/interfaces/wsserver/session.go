package wsserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-platform/services/chat-api/internal/domain/chat"
	"chat-platform/services/chat-api/internal/infrastructure/auth"
	"chat-platform/services/chat-api/internal/infrastructure/metrics"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

// Conversations is the slice of the chat service the session loop needs.
type Conversations interface {
	Start(ctx context.Context, userID *string, title, systemMessage string) (*chat.Conversation, error)
	Attach(ctx context.Context, conversationID, callerID string) (*chat.Conversation, error)
	Send(ctx context.Context, conversationID, content, callerID, delegatedCred string) (*chat.TurnResult, error)
	End(ctx context.Context, conversationID, callerID string) (*chat.Conversation, error)
}

// Transport is the connection surface the session uses. Satisfied by
// *websocket.Conn.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session owns one live connection. Inbound frames flow through a
// bounded mailbox drained by a single worker, so processing within a
// connection is strictly serialized: the next frame is not handled until
// the previous one's full result, including nested model/tool round
// trips, has been written back.
type Session struct {
	conn     Transport
	registry Registry
	chats    Conversations
	identity auth.Identity
	log      zerolog.Logger

	mailboxSize int
	writeWait   time.Duration

	writeMu sync.Mutex
}

// NewSession wraps an upgraded connection.
func NewSession(conn Transport, registry Registry, chats Conversations, identity auth.Identity, log zerolog.Logger, mailboxSize int, writeWait time.Duration) *Session {
	if mailboxSize < 1 {
		mailboxSize = 1
	}
	return &Session{
		conn:     conn,
		registry: registry,
		chats:    chats,
		identity: identity,
		log: log.With().
			Str("component", "session").
			Str("user_id", identity.UserID).
			Logger(),
		mailboxSize: mailboxSize,
		writeWait:   writeWait,
	}
}

// Run drives the session until the transport disconnects. A reader
// goroutine feeds the mailbox; when the mailbox is full the reader
// blocks, pushing backpressure down to the socket.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.registry.Attach(s, s.identity.UserID)
	metrics.RecordConnectionOpened()
	s.log.Info().Msg("session opened")

	defer func() {
		s.registry.Detach(s)
		metrics.RecordConnectionClosed()
		_ = s.conn.Close()
		s.log.Info().Msg("session closed")
	}()

	mailbox := make(chan []byte, s.mailboxSize)

	go func() {
		defer close(mailbox)
		// Disconnect cancels any in-flight turn; its result would be
		// undeliverable anyway.
		defer cancel()
		for {
			_, raw, err := s.conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case mailbox <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for raw := range mailbox {
		if ctx.Err() != nil {
			return
		}
		s.handleFrame(ctx, raw)
	}
}

// Deliver writes one frame to the transport. Safe for concurrent use;
// broadcasts arrive from other sessions' workers.
func (s *Session) Deliver(frame OutboundFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		s.log.Debug().Err(err).Msg("frame delivery failed")
	}
}

// handleFrame parses and dispatches one frame. Malformed frames and
// unknown actions degrade that frame only; the loop continues.
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	frame, err := ParseInbound(raw)
	if err != nil {
		metrics.RecordFrame("invalid", "protocol_error")
		s.Deliver(ErrorFrame(TypeError, err.Error()))
		return
	}

	var reply OutboundFrame
	switch frame.Action {
	case ActionStart:
		reply = s.handleStart(ctx, frame)
	case ActionSend:
		reply = s.handleSend(ctx, frame)
	case ActionEnd:
		reply = s.handleEnd(ctx, frame)
	default:
		metrics.RecordFrame(string(frame.Action), "protocol_error")
		s.Deliver(ErrorFrame(TypeError, fmt.Sprintf("unknown action: %s", frame.Action)))
		return
	}

	status := "ok"
	if !reply.Success {
		status = "failed"
	}
	metrics.RecordFrame(string(frame.Action), status)
	s.Deliver(reply)
}

func (s *Session) handleStart(ctx context.Context, frame *InboundFrame) OutboundFrame {
	var payload StartPayload
	if err := decodePayload(frame.Data, &payload); err != nil {
		return ErrorFrame(string(ActionStart), err.Error())
	}

	var (
		conversation *chat.Conversation
		err          error
	)
	if payload.ConversationID != "" {
		conversation, err = s.chats.Attach(ctx, payload.ConversationID, s.identity.UserID)
	} else {
		var userID *string
		if !s.identity.Anonymous() {
			id := s.identity.UserID
			userID = &id
		}
		conversation, err = s.chats.Start(ctx, userID, payload.Title, payload.SystemMessage)
	}
	if err != nil {
		return failureFrame(string(ActionStart), err)
	}

	s.registry.JoinConversation(s, conversation.ID)

	return SuccessFrame(string(ActionStart), map[string]any{
		"conversation_id": conversation.ID,
		"title":           conversation.Title,
		"status":          string(conversation.Status),
		"created_at":      conversation.CreatedAt,
	})
}

func (s *Session) handleSend(ctx context.Context, frame *InboundFrame) OutboundFrame {
	var payload SendPayload
	if err := decodePayload(frame.Data, &payload); err != nil {
		return ErrorFrame(string(ActionSend), err.Error())
	}
	if payload.ConversationID == "" {
		return ErrorFrame(string(ActionSend), "conversationId is required")
	}
	if strings.TrimSpace(payload.Content) == "" {
		return ErrorFrame(string(ActionSend), "content is required")
	}

	started := time.Now()
	result, err := s.chats.Send(ctx, payload.ConversationID, payload.Content, s.identity.UserID, s.identity.RawToken)
	if err != nil {
		metrics.RecordTurn("failed", time.Since(started).Seconds())
		return failureFrame(string(ActionSend), err)
	}
	metrics.RecordTurn("ok", time.Since(started).Seconds())

	data := map[string]any{
		"conversation_id":   result.ConversationID,
		"user_message":      messageView(result.UserMessage),
		"assistant_message": messageView(result.AssistantMessage),
		"response_time_ms":  result.ResponseTimeMs,
	}

	s.registry.BroadcastToConversation(result.ConversationID, OutboundFrame{
		Type:    TypeMessageBroadcast,
		Success: true,
		Data:    data,
	})

	return SuccessFrame(string(ActionSend), data)
}

func (s *Session) handleEnd(ctx context.Context, frame *InboundFrame) OutboundFrame {
	var payload EndPayload
	if err := decodePayload(frame.Data, &payload); err != nil {
		return ErrorFrame(string(ActionEnd), err.Error())
	}
	if payload.ConversationID == "" {
		return ErrorFrame(string(ActionEnd), "conversationId is required")
	}

	conversation, err := s.chats.End(ctx, payload.ConversationID, s.identity.UserID)
	if err != nil {
		return failureFrame(string(ActionEnd), err)
	}

	s.registry.BroadcastToConversation(conversation.ID, OutboundFrame{
		Type:    TypeConversationEnded,
		Success: true,
		Data: map[string]any{
			"conversation_id": conversation.ID,
			"ended_at":        conversation.EndedAt,
		},
	})

	return SuccessFrame(string(ActionEnd), map[string]any{
		"conversation_id": conversation.ID,
		"status":          string(conversation.Status),
		"ended_at":        conversation.EndedAt,
	})
}

// messageView is the wire shape of one persisted message.
func messageView(m *chat.Message) map[string]any {
	if m == nil {
		return nil
	}
	view := map[string]any{
		"id":         m.ID,
		"role":       string(m.Role),
		"content":    m.Content,
		"created_at": m.CreatedAt,
	}
	if m.TokensUsed != nil {
		view["tokens_used"] = *m.TokensUsed
	}
	if m.ResponseTimeMs != nil {
		view["response_time_ms"] = *m.ResponseTimeMs
	}
	if len(m.Metadata) > 0 {
		view["metadata"] = m.Metadata
	}
	return view
}

// failureFrame maps a domain error to a failed response frame. The
// platform message is surfaced without internal wrapping noise.
func failureFrame(frameType string, err error) OutboundFrame {
	if perr := platformerrors.GetPlatformError(err); perr != nil {
		return ErrorFrame(frameType, perr.Message)
	}
	return ErrorFrame(frameType, err.Error())
}
