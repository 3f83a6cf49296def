package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/codesync/relay/model"
	"github.com/codesync/relay/storage/memory"
	sw "github.com/codesync/relay/switch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

func newTestService() *Service {
	logger := zerolog.Nop()
	return NewService(Config{
		RoomStore: memory.NewMemStore(),
		Switch:    sw.NewSwitch(&logger),
		Logger:    &logger,
	})
}

type testClient struct {
	id   string
	wire model.Wire

	mu     sync.Mutex
	events []model.Outbound
	cursor int
}

// connect attaches a client the way the websocket server would and consumes
// the session welcome event.
func connect(t *testing.T, ctx context.Context, svc *Service, id string) *testClient {
	t.Helper()
	c := &testClient{id: id, wire: model.NewWire()}
	go func() {
		for out := range c.wire.TX {
			c.mu.Lock()
			c.events = append(c.events, out)
			c.mu.Unlock()
		}
	}()
	svc.Connect(ctx, id, c.wire)
	out := c.expect(t, model.EventSession)
	require.Equal(t, model.Session{ConnectionID: id}, out.Data)
	return c
}

func (c *testClient) emit(t *testing.T, event string, payload any) {
	t.Helper()
	kind, ok := model.KindByName(event)
	require.True(t, ok, "unknown event %q", event)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	select {
	case c.wire.RX <- model.Inbound{Kind: kind, From: c.id, Data: data}:
	case <-time.After(testWait):
		t.Fatalf("emit %q on %s timed out", event, c.id)
	}
}

func (c *testClient) next(t *testing.T) model.Outbound {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if c.cursor < len(c.events) {
			out := c.events[c.cursor]
			c.cursor++
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event on %s", c.id)
	return model.Outbound{}
}

func (c *testClient) expect(t *testing.T, event string) model.Outbound {
	t.Helper()
	out := c.next(t)
	require.Equal(t, event, out.Event, "unexpected event on %s", c.id)
	return out
}

// assertIdle verifies no unconsumed events arrived.
func (c *testClient) assertIdle(t *testing.T) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, c.cursor, len(c.events), "unexpected events on %s: %+v", c.id, c.events[c.cursor:])
}

func rawJSON(t *testing.T, out model.Outbound) string {
	t.Helper()
	raw, ok := out.Data.(json.RawMessage)
	require.True(t, ok, "expected raw payload, got %T", out.Data)
	return string(raw)
}

func TestCreateAndJoinRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()

	a := connect(t, ctx, svc, "conn-a")
	a.emit(t, model.EventCreateRoom, map[string]any{"roomId": "abc123", "userId": "alice"})
	out := a.expect(t, model.EventRoomCreated)
	assert.Equal(t, model.RoomCreated{RoomID: "abc123"}, out.Data)
	out = a.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 1}, out.Data)

	b := connect(t, ctx, svc, "conn-b")
	b.emit(t, model.EventJoinRoom, map[string]any{"roomId": "abc123", "userId": "bob"})

	out = b.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 2}, out.Data)

	out = a.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 2}, out.Data)
	out = a.expect(t, model.EventUserConnected)
	assert.Equal(t, "bob", out.Data)
	out = a.expect(t, model.EventRequestFileSystem)
	assert.Equal(t, model.FileSystemRequest{RequestingUserID: "bob"}, out.Data)

	// the joiner gets no user-connected and no file-system request
	b.assertIdle(t)
}

func TestCreateRoomGeneratesID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()

	a := connect(t, ctx, svc, "conn-a")
	a.emit(t, model.EventCreateRoom, map[string]any{"userId": "alice"})

	out := a.expect(t, model.EventRoomCreated)
	created, ok := out.Data.(model.RoomCreated)
	require.True(t, ok)
	assert.Len(t, created.RoomID, 8)
	a.expect(t, model.EventActiveUserUpdate)
}

func TestDuplicateCreateIsJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()

	a := connect(t, ctx, svc, "conn-a")
	a.emit(t, model.EventCreateRoom, map[string]any{"roomId": "abc123", "userId": "alice"})
	a.expect(t, model.EventRoomCreated)
	a.expect(t, model.EventActiveUserUpdate)

	b := connect(t, ctx, svc, "conn-b")
	b.emit(t, model.EventCreateRoom, map[string]any{"roomId": "abc123", "userId": "bob"})
	out := b.expect(t, model.EventRoomCreated)
	assert.Equal(t, model.RoomCreated{RoomID: "abc123"}, out.Data)
	out = b.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 2}, out.Data)

	out = a.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 2}, out.Data)

	room, _, err := svc.RoomInfo("abc123")
	require.NoError(t, err)
	assert.Equal(t, "alice", room.CreatedBy)
}

func TestJoinUnknownRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()

	b := connect(t, ctx, svc, "conn-b")
	b.emit(t, model.EventJoinRoom, map[string]any{"roomId": "nope", "userId": "bob"})

	out := b.expect(t, model.EventRoomError)
	require.IsType(t, model.RoomError{}, out.Data)
	b.assertIdle(t)

	_, _, err := svc.RoomInfo("nope")
	assert.Error(t, err)
}

func TestChatIsInclusive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	b.emit(t, model.EventChatMessage, map[string]any{
		"roomId": "abc123", "userId": "bob", "message": "hi", "timestamp": 42,
	})

	want := model.NewMessage{Chat: model.ChatBody{UserID: "bob", Message: "hi", Timestamp: 42}}
	out := a.expect(t, model.EventNewMessage)
	assert.Equal(t, want, out.Data)
	out = b.expect(t, model.EventNewMessage)
	assert.Equal(t, want, out.Data)
}

func TestCursorAndCodeAreExclusive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	cursor := map[string]any{
		"roomId": "abc123", "userId": "bob",
		"x": 10, "y": 20, "username": "bob", "color": "#fff", "clicking": true,
	}
	b.emit(t, model.EventCursorMoved, cursor)
	out := a.expect(t, model.EventCursorMoved)
	assert.Contains(t, rawJSON(t, out), `"username":"bob"`)

	b.emit(t, model.EventCodeChangedIn, map[string]any{"roomId": "abc123", "code": "package main"})
	out = a.expect(t, model.EventCodeChangedOut)
	assert.Contains(t, rawJSON(t, out), `"code":"package main"`)

	// the sender never gets its own cursor or code back
	b.assertIdle(t)
}

func TestFileEventsEchoToSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	payload := map[string]any{"roomId": "abc123", "file": map[string]any{"id": "f1", "name": "main.go"}, "parentId": "root"}
	b.emit(t, model.EventFileCreated, payload)

	wantFragment := `"name":"main.go"`
	out := a.expect(t, model.EventFileCreated)
	assert.Contains(t, rawJSON(t, out), wantFragment)
	out = b.expect(t, model.EventFileCreated)
	assert.Contains(t, rawJSON(t, out), wantFragment)
}

func TestRelayDropsRoomlessPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	b.emit(t, model.EventFileDeleted, map[string]any{"nodeId": "f1"})             // no room id
	b.emit(t, model.EventCursorMoved, map[string]any{"roomId": "ghost", "x": 1}) // unknown room

	a.assertIdle(t)
	b.assertIdle(t)
}

func TestShareFileSystemTargetsSingleUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	c := connect(t, ctx, svc, "conn-c")
	c.emit(t, model.EventJoinRoom, map[string]any{"roomId": "abc123", "userId": "carol"})
	c.expect(t, model.EventActiveUserUpdate)
	a.expect(t, model.EventActiveUserUpdate)
	a.expect(t, model.EventUserConnected)
	a.expect(t, model.EventRequestFileSystem)
	b.expect(t, model.EventActiveUserUpdate)
	b.expect(t, model.EventUserConnected)
	b.expect(t, model.EventRequestFileSystem)

	a.emit(t, model.EventShareFileSystem, map[string]any{
		"roomId":       "abc123",
		"targetUserId": "carol",
		"fileSystem":   map[string]any{"root": []string{"main.go"}},
	})

	out := c.expect(t, model.EventSyncFileSystem)
	sync, ok := out.Data.(model.SyncFileSystem)
	require.True(t, ok)
	assert.JSONEq(t, `{"root":["main.go"]}`, string(sync.FileSystem))

	a.assertIdle(t)
	b.assertIdle(t)
}

func TestLeaveAndDisconnectCascade(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	a.emit(t, model.EventLeaveRoom, map[string]any{"roomId": "abc123"})
	out := b.expect(t, model.EventUserLeft)
	assert.Equal(t, model.UserLeft{UserID: "alice"}, out.Data)
	out = b.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 1}, out.Data)
	a.assertIdle(t)

	svc.Disconnect(ctx, "conn-b")

	// last member gone: the room is no longer joinable
	c := connect(t, ctx, svc, "conn-c")
	c.emit(t, model.EventJoinRoom, map[string]any{"roomId": "abc123", "userId": "carol"})
	c.expect(t, model.EventRoomError)
}

func TestVideoCallOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	a.emit(t, model.EventJoinVideo, map[string]any{"roomId": "abc123", "userId": "alice"})
	out := a.expect(t, model.EventAllVideoUsers)
	assert.Equal(t, model.AllVideoUsers{RoomID: "abc123", Users: []model.VideoParticipant{}}, out.Data)
	out = b.expect(t, model.EventUserJoinedVideo)
	assert.Equal(t, model.VideoParticipant{UserID: "alice", ConnID: "conn-a"}, out.Data)

	b.emit(t, model.EventJoinVideo, map[string]any{"roomId": "abc123", "userId": "bob"})
	out = b.expect(t, model.EventAllVideoUsers)
	assert.Equal(t, model.AllVideoUsers{
		RoomID: "abc123",
		Users:  []model.VideoParticipant{{UserID: "alice", ConnID: "conn-a"}},
	}, out.Data)
	out = a.expect(t, model.EventUserJoinedVideo)
	assert.Equal(t, model.VideoParticipant{UserID: "bob", ConnID: "conn-b"}, out.Data)

	b.emit(t, model.EventLeaveVideo, map[string]any{"roomId": "abc123", "userId": "bob"})
	out = a.expect(t, model.EventUserLeftVideo)
	assert.Equal(t, model.VideoParticipant{UserID: "bob", ConnID: "conn-b"}, out.Data)

	// leave with no video entry left is a silent no-op
	b.emit(t, model.EventLeaveVideo, map[string]any{"roomId": "abc123", "userId": "bob"})
	b.assertIdle(t)
}

func TestDisconnectLeavesVideoCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	a.emit(t, model.EventJoinVideo, map[string]any{"roomId": "abc123", "userId": "alice"})
	a.expect(t, model.EventAllVideoUsers)
	b.expect(t, model.EventUserJoinedVideo)
	b.emit(t, model.EventJoinVideo, map[string]any{"roomId": "abc123", "userId": "bob"})
	b.expect(t, model.EventAllVideoUsers)
	a.expect(t, model.EventUserJoinedVideo)

	svc.Disconnect(ctx, "conn-b")

	out := a.expect(t, model.EventUserLeftVideo)
	assert.Equal(t, model.VideoParticipant{UserID: "bob", ConnID: "conn-b"}, out.Data)
	out = a.expect(t, model.EventUserLeft)
	assert.Equal(t, model.UserLeft{UserID: "bob"}, out.Data)
	out = a.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 1}, out.Data)
}

func TestSignalingHitsExactTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	a.emit(t, model.EventOffer, map[string]any{"target": "conn-b", "caller": "conn-a", "sdp": "v=0"})
	out := b.expect(t, model.EventOffer)
	assert.Contains(t, rawJSON(t, out), `"sdp":"v=0"`)

	b.emit(t, model.EventAnswer, map[string]any{"target": "conn-a", "caller": "conn-b", "sdp": "v=0"})
	out = a.expect(t, model.EventAnswer)
	assert.Contains(t, rawJSON(t, out), `"caller":"conn-b"`)

	b.emit(t, model.EventICECandidate, map[string]any{"target": "conn-a", "caller": "conn-b", "candidate": "cand"})
	a.expect(t, model.EventICECandidate)

	// missing target: dropped, nobody hears anything
	a.emit(t, model.EventOffer, map[string]any{"caller": "conn-a", "sdp": "v=0"})
	a.assertIdle(t)
	b.assertIdle(t)
}

func TestAutoLeaveOnJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService()
	a, b := twoInRoom(t, ctx, svc, "abc123")

	b.emit(t, model.EventCreateRoom, map[string]any{"roomId": "other", "userId": "bob"})
	b.expect(t, model.EventRoomCreated)
	b.expect(t, model.EventActiveUserUpdate)

	out := a.expect(t, model.EventUserLeft)
	assert.Equal(t, model.UserLeft{UserID: "bob"}, out.Data)
	out = a.expect(t, model.EventActiveUserUpdate)
	assert.Equal(t, model.ActiveUserUpdate{ActiveUsers: 1}, out.Data)
}

// twoInRoom sets up alice (conn-a) as creator and bob (conn-b) as joiner of
// roomID, with all setup notifications consumed.
func twoInRoom(t *testing.T, ctx context.Context, svc *Service, roomID string) (*testClient, *testClient) {
	t.Helper()
	a := connect(t, ctx, svc, "conn-a")
	a.emit(t, model.EventCreateRoom, map[string]any{"roomId": roomID, "userId": "alice"})
	a.expect(t, model.EventRoomCreated)
	a.expect(t, model.EventActiveUserUpdate)

	b := connect(t, ctx, svc, "conn-b")
	b.emit(t, model.EventJoinRoom, map[string]any{"roomId": roomID, "userId": "bob"})
	b.expect(t, model.EventActiveUserUpdate)
	a.expect(t, model.EventActiveUserUpdate)
	a.expect(t, model.EventUserConnected)
	a.expect(t, model.EventRequestFileSystem)
	return a, b
}
