package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/models"
	"drivepower/client/internal/observability"
)

// ConnectionStatus is the state of the hub connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Hub method and event names.
const (
	methodJoinRoom    = "JoinRoom"
	methodLeaveRoom   = "LeaveRoom"
	methodSendMessage = "SendMessage"

	eventReceiveMessage = "ReceiveMessage"
	eventUserJoined     = "UserJoined"
	eventUserLeft       = "UserLeft"
)

const (
	routeRooms    = "/chat/rooms"
	routeMessages = "/chat/rooms/{id}/messages"
)

// ErrNotConnected is wrapped by hub-only calls made without a live connection.
var ErrNotConnected = errors.New("chat: not connected")

// Credentials supplies the token for each connection and the local user id.
type Credentials interface {
	Token() string
	CurrentUserID() string
}

// Session owns the hub connection, the room list and the per-room message logs.
// Every message, whether pushed by the hub or returned over HTTP, enters the log
// through one path keyed by message id.
type Session struct {
	client *api.Client
	dialer Dialer
	creds  Credentials
	logger *zap.Logger

	mu          sync.RWMutex
	status      ConnectionStatus
	conn        HubConn
	gen         uint64
	rooms       []models.ChatRoom
	messages    map[string][]models.ChatMessage
	seen        map[string]map[string]struct{}
	currentRoom string
	roomsSeq    uint64
	messagesSeq uint64
	inflight    int
	errMsg      string
}

// NewSession builds a disconnected session.
func NewSession(client *api.Client, dialer Dialer, creds Credentials, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		client:   client,
		dialer:   dialer,
		creds:    creds,
		logger:   logger,
		status:   StatusDisconnected,
		messages: make(map[string][]models.ChatMessage),
		seen:     make(map[string]map[string]struct{}),
	}
}

// Status returns the connection state.
func (s *Session) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Rooms returns copies of the cached rooms.
func (s *Session) Rooms() []models.ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatRoom, len(s.rooms))
	for i, room := range s.rooms {
		out[i] = room.Clone()
	}
	return out
}

// Messages returns the log of one room in arrival order.
func (s *Session) Messages(roomID string) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.messages[roomID]...)
}

// CurrentRoom returns the room selected by the last FetchMessages.
func (s *Session) CurrentRoom() (models.ChatRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentRoom == "" {
		return models.ChatRoom{}, false
	}
	for _, room := range s.rooms {
		if room.ID == s.currentRoom {
			return room.Clone(), true
		}
	}
	return models.ChatRoom{}, false
}

// Loading reports whether an HTTP request is in flight.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the message of the last failure.
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// Connect opens the hub connection. It does nothing unless the session is
// disconnected and never retries on failure.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusConnecting
	s.errMsg = ""
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	token := ""
	if s.creds != nil {
		token = s.creds.Token()
	}
	conn, err := s.dialer.Dial(ctx, token, s.handleEvent)

	s.mu.Lock()
	if gen != s.gen {
		// Disconnect ran while dialing.
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		s.status = StatusDisconnected
		s.errMsg = "Failed to connect to chat."
		s.mu.Unlock()
		observability.HubConnectsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("chat hub connect failed", zap.Error(err))
		return &api.Error{Kind: api.KindTransport, Message: "Failed to connect to chat.", Err: err}
	}
	s.status = StatusConnected
	s.conn = conn
	s.mu.Unlock()

	observability.HubConnectsTotal.WithLabelValues("success").Inc()
	observability.HubConnected.Set(1)
	s.logger.Info("chat hub connected")
	go s.watch(gen, conn)
	return nil
}

// Disconnect tears the connection down. Calling it again is harmless.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.status = StatusDisconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.logger.Info("chat hub disconnected")
	}
	observability.HubConnected.Set(0)
}

func (s *Session) watch(gen uint64, conn HubConn) {
	<-conn.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.conn != conn {
		return
	}
	s.conn = nil
	s.status = StatusDisconnected
	if err := conn.Err(); err != nil {
		s.errMsg = "Chat connection lost."
		s.logger.Warn("chat hub connection lost", zap.Error(err))
	}
	observability.HubConnected.Set(0)
}

// JoinRoom subscribes the connection to a room's pushes.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	return s.invoke(ctx, methodJoinRoom, roomID, "Failed to join room.")
}

// LeaveRoom unsubscribes the connection from a room.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	return s.invoke(ctx, methodLeaveRoom, roomID, "Failed to leave room.")
}

func (s *Session) invoke(ctx context.Context, method, roomID, fallback string) error {
	if strings.TrimSpace(roomID) == "" {
		return api.NewValidationError("Room id is required.")
	}
	conn := s.liveConn()
	if conn == nil {
		return &api.Error{Kind: api.KindValidation, Message: "Chat is not connected.", Err: ErrNotConnected}
	}
	if err := conn.Invoke(ctx, method, roomID); err != nil {
		kind := api.KindTransport
		if errors.Is(err, ErrInvocationFailed) {
			kind = api.KindServer
		}
		s.setErr(fallback)
		return &api.Error{Kind: kind, Message: fallback, Err: err}
	}
	return nil
}

// SendMessage delivers content to a room. While connected the message goes over the
// hub and shows up when the server echoes it, so nil is returned. Otherwise it is
// posted over HTTP and the persisted message is appended and returned.
func (s *Session) SendMessage(ctx context.Context, roomID, content string) (*models.ChatMessage, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, api.NewValidationError("Room id is required.")
	}
	if strings.TrimSpace(content) == "" {
		return nil, api.NewValidationError("Message cannot be empty.")
	}

	if conn := s.liveConn(); conn != nil {
		if err := conn.Send(ctx, methodSendMessage, roomID, content); err != nil {
			s.setErr("Failed to send message.")
			return nil, &api.Error{Kind: api.KindTransport, Message: "Failed to send message.", Err: err}
		}
		return nil, nil
	}

	s.begin(nil)
	var msg models.ChatMessage
	err := s.client.Post(ctx, routeMessages, "/chat/rooms/"+api.PathEscape(roomID)+"/messages", map[string]string{"content": content}, &msg)
	if err == nil {
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		if verr := msg.Validate(); verr != nil {
			err = &api.Error{Kind: api.KindUnexpected, Message: "Server returned an invalid message.", Err: verr}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to send message.")
		return nil, err
	}
	s.appendLocked(msg)
	return &msg, nil
}

// FetchRooms replaces the room list.
func (s *Session) FetchRooms(ctx context.Context) error {
	seq := s.begin(&s.roomsSeq)

	var rooms []models.ChatRoom
	err := s.client.Get(ctx, routeRooms, routeRooms, &rooms)
	if err == nil {
		for i := range rooms {
			if err = validateRoom(&rooms[i]); err != nil {
				break
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if seq != s.roomsSeq {
		observability.StaleResponsesTotal.WithLabelValues("chat_rooms").Inc()
		return err
	}
	if err != nil {
		s.errMsg = api.Message(err, "Failed to load chat rooms.")
		return err
	}
	if rooms == nil {
		rooms = []models.ChatRoom{}
	}
	s.rooms = rooms
	return nil
}

// FetchMessages replaces the log of roomID and selects it as the current room. The
// room is looked up in the already fetched room list.
func (s *Session) FetchMessages(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return api.NewValidationError("Room id is required.")
	}
	seq := s.begin(&s.messagesSeq)

	var list []models.ChatMessage
	err := s.client.Get(ctx, routeMessages, "/chat/rooms/"+api.PathEscape(roomID)+"/messages", &list)
	if err == nil {
		for i := range list {
			if list[i].RoomID == "" {
				list[i].RoomID = roomID
			}
			if verr := list[i].Validate(); verr != nil {
				err = &api.Error{Kind: api.KindUnexpected, Message: "Server returned an invalid message.", Err: verr}
				break
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if seq != s.messagesSeq {
		observability.StaleResponsesTotal.WithLabelValues("chat_messages").Inc()
		return err
	}
	if err != nil {
		s.errMsg = api.Message(err, "Failed to load messages.")
		return err
	}

	prev := s.messages[roomID]
	s.messages[roomID] = nil
	s.seen[roomID] = make(map[string]struct{}, len(list)+len(prev))
	for _, msg := range list {
		s.appendLocked(msg)
	}
	// Messages pushed while the request was in flight are missing from the response.
	for _, msg := range prev {
		s.appendLocked(msg)
	}
	s.currentRoom = ""
	if idx := s.roomIndexLocked(roomID); idx >= 0 {
		s.currentRoom = roomID
		s.rooms[idx].UnreadCount = 0
	} else {
		s.logger.Debug("messages fetched for a room that is not in the room list", zap.String("room_id", roomID))
	}
	return nil
}

// CreateRoom opens a support conversation and adds it to the room list.
func (s *Session) CreateRoom(ctx context.Context, subject string) (models.ChatRoom, error) {
	if strings.TrimSpace(subject) == "" {
		return models.ChatRoom{}, api.NewValidationError("Subject is required.")
	}
	s.begin(nil)

	var room models.ChatRoom
	err := s.client.Post(ctx, routeRooms, routeRooms, map[string]string{"subject": subject}, &room)
	if err == nil {
		err = validateRoom(&room)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to create chat room.")
		return models.ChatRoom{}, err
	}
	if idx := s.roomIndexLocked(room.ID); idx >= 0 {
		s.rooms[idx] = room
	} else {
		s.rooms = append(s.rooms, room)
	}
	return room.Clone(), nil
}

func (s *Session) handleEvent(target string, args []json.RawMessage) {
	observability.HubEventsTotal.WithLabelValues(target).Inc()
	switch target {
	case eventReceiveMessage:
		if len(args) < 1 {
			s.logger.Warn("ReceiveMessage without payload")
			return
		}
		var msg models.ChatMessage
		if err := json.Unmarshal(args[0], &msg); err != nil {
			s.logger.Warn("malformed pushed message", zap.Error(err))
			return
		}
		if err := msg.Validate(); err != nil || msg.RoomID == "" {
			s.logger.Warn("invalid pushed message", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		s.mu.Lock()
		s.appendLocked(msg)
		s.mu.Unlock()
	case eventUserJoined, eventUserLeft:
		roomID, userID, err := roomUserArgs(args)
		if err != nil {
			s.logger.Warn("malformed participant event", zap.String("target", target), zap.Error(err))
			return
		}
		s.mu.Lock()
		s.updateParticipantLocked(roomID, userID, target == eventUserJoined)
		s.mu.Unlock()
	default:
		s.logger.Debug("unhandled hub event", zap.String("target", target))
	}
}

// appendLocked adds msg to its room log once and refreshes the room summary.
func (s *Session) appendLocked(msg models.ChatMessage) bool {
	seen := s.seen[msg.RoomID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[msg.RoomID] = seen
	}
	if _, dup := seen[msg.ID]; dup {
		return false
	}
	seen[msg.ID] = struct{}{}
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)

	if idx := s.roomIndexLocked(msg.RoomID); idx >= 0 {
		room := &s.rooms[idx]
		last := msg
		room.LastMessage = &last
		if msg.RoomID != s.currentRoom && !msg.IsRead && msg.SenderID != s.selfID() {
			room.UnreadCount++
		}
	}
	return true
}

func (s *Session) updateParticipantLocked(roomID, userID string, joined bool) {
	idx := s.roomIndexLocked(roomID)
	if idx < 0 {
		return
	}
	room := &s.rooms[idx]
	for i, p := range room.Participants {
		if p == userID {
			if !joined {
				room.Participants = append(room.Participants[:i:i], room.Participants[i+1:]...)
			}
			return
		}
	}
	if joined {
		room.Participants = append(room.Participants, userID)
	}
}

func (s *Session) roomIndexLocked(id string) int {
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) selfID() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.CurrentUserID()
}

func (s *Session) liveConn() HubConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusConnected {
		return nil
	}
	return s.conn
}

func (s *Session) begin(seq *uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	s.errMsg = ""
	if seq == nil {
		return 0
	}
	*seq++
	return *seq
}

func (s *Session) setErr(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func validateRoom(room *models.ChatRoom) error {
	room.Normalize()
	if err := room.Validate(); err != nil {
		return &api.Error{Kind: api.KindUnexpected, Message: "Server returned an invalid chat room.", Err: err}
	}
	return nil
}

func roomUserArgs(args []json.RawMessage) (string, string, error) {
	if len(args) < 2 {
		return "", "", fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	var roomID, userID string
	if err := json.Unmarshal(args[0], &roomID); err != nil {
		return "", "", err
	}
	if err := json.Unmarshal(args[1], &userID); err != nil {
		return "", "", err
	}
	return roomID, userID, nil
}
