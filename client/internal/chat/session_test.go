package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/models"
)

type staticCreds struct {
	token string
	user  string
}

func (c staticCreds) Token() string         { return c.token }
func (c staticCreds) CurrentUserID() string { return c.user }

type hubCall struct {
	target string
	args   []interface{}
}

type fakeHub struct {
	mu        sync.Mutex
	sent      []hubCall
	invoked   []hubCall
	invokeErr error
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newFakeHub() *fakeHub {
	return &fakeHub{done: make(chan struct{})}
}

func (f *fakeHub) Invoke(_ context.Context, target string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, hubCall{target: target, args: args})
	return f.invokeErr
}

func (f *fakeHub) Send(_ context.Context, target string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, hubCall{target: target, args: args})
	return nil
}

func (f *fakeHub) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeHub) Done() <-chan struct{} { return f.done }

func (f *fakeHub) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// drop simulates the server going away.
func (f *fakeHub) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *fakeHub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHub) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	tokens  []string
	hub     *fakeHub
	err     error
	gate    chan struct{}
	onEvent EventHandler
}

func (d *fakeDialer) Dial(ctx context.Context, token string, onEvent EventHandler) (HubConn, error) {
	d.mu.Lock()
	d.dials++
	d.tokens = append(d.tokens, token)
	d.onEvent = onEvent
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.hub, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) push(t *testing.T, target string, args ...interface{}) {
	t.Helper()
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			t.Fatalf("marshal push argument: %v", err)
		}
		raw[i] = data
	}
	d.mu.Lock()
	handler := d.onEvent
	d.mu.Unlock()
	handler(target, raw)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestSession(t *testing.T, handler http.Handler, dialer Dialer) *Session {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL+"/api", srv.Client(), zap.NewNop())
	return NewSession(client, dialer, staticCreds{token: "tok", user: "u1"}, zap.NewNop())
}

func roomsHandler(rooms ...map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rooms)
	}
}

func room(id string) map[string]interface{} {
	return map[string]interface{}{"id": id, "participants": []string{"u1"}, "status": "Active", "unreadCount": 0}
}

func message(id, roomID, sender, content string) map[string]interface{} {
	return map[string]interface{}{"id": id, "roomId": roomID, "senderId": sender, "content": content, "sentAt": "2026-10-16T09:00:00Z"}
}

func TestConnectTwiceOpensOneConnection(t *testing.T) {
	dialer := &fakeDialer{hub: newFakeHub()}
	session := newTestSession(t, nil, dialer)
	ctx := context.Background()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("expected one dial, got %d", dialer.dialCount())
	}
	if session.Status() != StatusConnected {
		t.Fatalf("expected connected, got %s", session.Status())
	}
	if dialer.tokens[0] != "tok" {
		t.Fatalf("expected token per connection, got %q", dialer.tokens[0])
	}
}

func TestConnectWhileConnectingIsNoop(t *testing.T) {
	dialer := &fakeDialer{hub: newFakeHub(), gate: make(chan struct{})}
	session := newTestSession(t, nil, dialer)

	done := make(chan error, 1)
	go func() { done <- session.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return session.Status() == StatusConnecting })

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect while connecting: %v", err)
	}
	close(dialer.gate)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("expected one dial, got %d", dialer.dialCount())
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	session := newTestSession(t, nil, dialer)

	err := session.Connect(context.Background())
	if !api.IsKind(err, api.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if session.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", session.Status())
	}
	if session.Err() == "" {
		t.Fatalf("expected recorded error")
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("connect must not retry, got %d dials", dialer.dialCount())
	}
}

func TestDisconnectDuringDialClosesLateConnection(t *testing.T) {
	hub := newFakeHub()
	dialer := &fakeDialer{hub: hub, gate: make(chan struct{})}
	session := newTestSession(t, nil, dialer)

	done := make(chan error, 1)
	go func() { done <- session.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return session.Status() == StatusConnecting })

	session.Disconnect()
	close(dialer.gate)
	<-done

	if session.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", session.Status())
	}
	if !hub.isClosed() {
		t.Fatalf("late connection must be closed")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := newFakeHub()
	session := newTestSession(t, nil, &fakeDialer{hub: hub})

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	session.Disconnect()
	session.Disconnect()
	if session.Status() != StatusDisconnected || !hub.isClosed() {
		t.Fatalf("expected closed and disconnected")
	}
}

func TestConnectionLossResetsStatus(t *testing.T) {
	hub := newFakeHub()
	session := newTestSession(t, nil, &fakeDialer{hub: hub})

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hub.drop(errors.New("reset by peer"))
	waitFor(t, time.Second, func() bool { return session.Status() == StatusDisconnected })
	if session.Err() == "" {
		t.Fatalf("expected connection loss to be recorded")
	}
}

func TestSendWhileConnectedAppendsOnlyOnEcho(t *testing.T) {
	hub := newFakeHub()
	dialer := &fakeDialer{hub: hub}
	session := newTestSession(t, roomsHandler(room("r1")), dialer)
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	msg, err := session.SendMessage(ctx, "r1", "hi")
	if err != nil || msg != nil {
		t.Fatalf("expected hub send without result, got %v %v", msg, err)
	}
	if hub.sentCount() != 1 || hub.sent[0].target != "SendMessage" {
		t.Fatalf("expected SendMessage over hub, got %+v", hub.sent)
	}
	if len(session.Messages("r1")) != 0 {
		t.Fatalf("send must not append directly")
	}

	dialer.push(t, "ReceiveMessage", message("m1", "r1", "u1", "hi"))
	dialer.push(t, "ReceiveMessage", message("m1", "r1", "u1", "hi"))

	log := session.Messages("r1")
	if len(log) != 1 || log[0].Content != "hi" {
		t.Fatalf("expected one echoed message, got %+v", log)
	}
	rooms := session.Rooms()
	if rooms[0].LastMessage == nil || rooms[0].LastMessage.ID != "m1" {
		t.Fatalf("expected last message refreshed, got %+v", rooms[0].LastMessage)
	}
	if rooms[0].UnreadCount != 0 {
		t.Fatalf("own messages must not count as unread")
	}
}

func TestSendWhileDisconnectedFallsBackToHTTP(t *testing.T) {
	var mu sync.Mutex
	var body map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms/r1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		writeJSON(w, http.StatusOK, message("m7", "r1", "u1", "hello"))
	})
	session := newTestSession(t, mux, &fakeDialer{})

	msg, err := session.SendMessage(context.Background(), "r1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg == nil || msg.ID != "m7" {
		t.Fatalf("expected persisted message, got %+v", msg)
	}
	mu.Lock()
	content := body["content"]
	mu.Unlock()
	if content != "hello" {
		t.Fatalf("unexpected posted content %q", content)
	}
	if log := session.Messages("r1"); len(log) != 1 || log[0].ID != "m7" {
		t.Fatalf("expected appended message, got %+v", log)
	}
}

func TestFetchMessagesSelectsRoomAndDeduplicates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms", roomsHandler(room("r1"), room("r2")))
	mux.HandleFunc("/api/chat/rooms/r2/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []interface{}{
			message("a", "r2", "u2", "first"),
			message("b", "r2", "u1", "second"),
			message("a", "r2", "u2", "first"),
		})
	})
	session := newTestSession(t, mux, &fakeDialer{})
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	if err := session.FetchMessages(ctx, "r2"); err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	log := session.Messages("r2")
	if len(log) != 2 || log[0].ID != "a" || log[1].ID != "b" {
		t.Fatalf("unexpected log %+v", log)
	}
	current, ok := session.CurrentRoom()
	if !ok || current.ID != "r2" {
		t.Fatalf("expected current room r2, got %+v", current)
	}
}

func TestPushUpdatesUnreadAndParticipants(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms", roomsHandler(room("r1"), room("r2")))
	mux.HandleFunc("/api/chat/rooms/r1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []interface{}{})
	})
	dialer := &fakeDialer{hub: newFakeHub()}
	session := newTestSession(t, mux, dialer)
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	if err := session.FetchMessages(ctx, "r1"); err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	dialer.push(t, "ReceiveMessage", message("x1", "r2", "op-1", "hello"))
	dialer.push(t, "ReceiveMessage", message("x2", "r1", "op-1", "in current room"))
	dialer.push(t, "UserJoined", "r2", "op-1")
	dialer.push(t, "UserJoined", "r2", "op-1")
	dialer.push(t, "UserLeft", "r2", "u1")

	rooms := session.Rooms()
	if rooms[0].UnreadCount != 0 {
		t.Fatalf("current room must not accumulate unread, got %d", rooms[0].UnreadCount)
	}
	if rooms[1].UnreadCount != 1 {
		t.Fatalf("expected one unread in r2, got %d", rooms[1].UnreadCount)
	}
	if len(rooms[1].Participants) != 1 || rooms[1].Participants[0] != "op-1" {
		t.Fatalf("unexpected participants %v", rooms[1].Participants)
	}
}

func TestJoinRoomRequiresConnection(t *testing.T) {
	hub := newFakeHub()
	session := newTestSession(t, nil, &fakeDialer{hub: hub})
	ctx := context.Background()

	err := session.JoinRoom(ctx, "r1")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := session.JoinRoom(ctx, "r1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.invokeErr = ErrInvocationFailed
	if err := session.LeaveRoom(ctx, "r1"); !api.IsKind(err, api.KindServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(hub.invoked) != 2 || hub.invoked[0].target != "JoinRoom" || hub.invoked[1].target != "LeaveRoom" {
		t.Fatalf("unexpected invocations %+v", hub.invoked)
	}
}

func TestCreateRoomAppends(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusCreated, room("r9"))
			return
		}
		writeJSON(w, http.StatusOK, []interface{}{room("r1")})
	})
	session := newTestSession(t, mux, &fakeDialer{})
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	created, err := session.CreateRoom(ctx, "Charger stuck")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if created.Status != models.RoomActive {
		t.Fatalf("expected normalized status, got %q", created.Status)
	}
	if rooms := session.Rooms(); len(rooms) != 2 || rooms[1].ID != "r9" {
		t.Fatalf("unexpected rooms %+v", rooms)
	}
	if _, err := session.CreateRoom(ctx, " "); !api.IsKind(err, api.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPushDuringFetchMessagesIsKept(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms", roomsHandler(room("r1")))
	mux.HandleFunc("/api/chat/rooms/r1/messages", func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		writeJSON(w, http.StatusOK, []interface{}{message("m1", "r1", "u2", "history")})
	})
	dialer := &fakeDialer{hub: newFakeHub()}
	session := newTestSession(t, mux, dialer)
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.FetchMessages(ctx, "r1") }()
	<-arrived
	dialer.push(t, "ReceiveMessage", message("m2", "r1", "op-1", "live"))
	if log := session.Messages("r1"); len(log) != 1 {
		t.Fatalf("expected pushed message appended, got %+v", log)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("fetch messages: %v", err)
	}

	log := session.Messages("r1")
	if len(log) != 2 || log[0].ID != "m1" || log[1].ID != "m2" {
		t.Fatalf("pushed message lost by fetch, log=%+v", log)
	}
	rooms := session.Rooms()
	if rooms[0].LastMessage == nil || rooms[0].LastMessage.ID != "m2" {
		t.Fatalf("expected last message m2, got %+v", rooms[0].LastMessage)
	}
	if rooms[0].UnreadCount != 0 {
		t.Fatalf("expected unread reset for current room, got %d", rooms[0].UnreadCount)
	}
}

func TestStaleRoomListIsDiscarded(t *testing.T) {
	var calls atomic.Int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(arrived)
			<-release
			writeJSON(w, http.StatusOK, []interface{}{room("old")})
			return
		}
		writeJSON(w, http.StatusOK, []interface{}{room("fresh")})
	}), &fakeDialer{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- session.FetchRooms(ctx) }()
	<-arrived
	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fresh fetch: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale fetch returned error: %v", err)
	}

	rooms := session.Rooms()
	if len(rooms) != 1 || rooms[0].ID != "fresh" {
		t.Fatalf("stale response overwrote room list: %+v", rooms)
	}
	if session.Loading() {
		t.Fatalf("expected loading to settle")
	}
}

func TestStaleMessagesResponseIsDiscarded(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms", roomsHandler(room("r1"), room("r2")))
	mux.HandleFunc("/api/chat/rooms/r1/messages", func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		writeJSON(w, http.StatusOK, []interface{}{message("old", "r1", "u2", "late")})
	})
	mux.HandleFunc("/api/chat/rooms/r2/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []interface{}{message("new", "r2", "u2", "fresh")})
	})
	session := newTestSession(t, mux, &fakeDialer{})
	ctx := context.Background()

	if err := session.FetchRooms(ctx); err != nil {
		t.Fatalf("fetch rooms: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- session.FetchMessages(ctx, "r1") }()
	<-arrived
	if err := session.FetchMessages(ctx, "r2"); err != nil {
		t.Fatalf("fresh fetch: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale fetch returned error: %v", err)
	}

	if log := session.Messages("r1"); len(log) != 0 {
		t.Fatalf("stale messages installed: %+v", log)
	}
	current, ok := session.CurrentRoom()
	if !ok || current.ID != "r2" {
		t.Fatalf("stale response changed current room: %+v", current)
	}
}
