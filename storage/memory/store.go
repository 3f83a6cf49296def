package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/codesync/relay/model"
)

var (
	ErrRoomNotFound = errors.New("room is not found")
)

type connInfo struct {
	roomID string
	userID string
}

// MemStore owns the room directory, the explicit membership table and the
// per-room video participant lists. One mutex guards all three so that
// cleanup-on-empty is atomic with the removal of the last member.
type MemStore struct {
	mx      *sync.Mutex
	rooms   map[string]*model.Room
	members map[string]map[string]string // roomID -> connID -> userID
	conns   map[string]connInfo
	video   map[string][]model.VideoParticipant
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:      &sync.Mutex{},
		rooms:   make(map[string]*model.Room),
		members: make(map[string]map[string]string),
		conns:   make(map[string]connInfo),
		video:   make(map[string][]model.VideoParticipant),
	}
}

// CreateRoom registers roomID if unused and adds the caller as first member.
// A duplicate id degrades to a join; first writer wins on CreatedBy.
func (ms *MemStore) CreateRoom(roomID, userID, connID string) (model.Room, bool, int, []string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	created := !ok
	if !ok {
		room = &model.Room{
			ID:        roomID,
			CreatedBy: userID,
			CreatedAt: time.Now(),
		}
		ms.rooms[roomID] = room
		ms.members[roomID] = make(map[string]string)
	}
	ms.members[roomID][connID] = userID
	ms.conns[connID] = connInfo{roomID: roomID, userID: userID}
	return *room, created, len(ms.members[roomID]), ms.memberList(roomID)
}

// JoinRoom adds the caller to an existing room. Unlike CreateRoom, an
// unknown room id is a hard error.
func (ms *MemStore) JoinRoom(roomID, userID, connID string) (int, []string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.rooms[roomID]; !ok {
		return 0, nil, ErrRoomNotFound
	}
	ms.members[roomID][connID] = userID
	ms.conns[connID] = connInfo{roomID: roomID, userID: userID}
	return len(ms.members[roomID]), ms.memberList(roomID), nil
}

// CurrentRoom reports the room the connection is a member of, if any.
func (ms *MemStore) CurrentRoom(connID string) (string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ci, ok := ms.conns[connID]
	return ci.roomID, ok
}

// Departure summarizes the removal of a connection from its room.
type Departure struct {
	RoomID      string
	UserID      string
	Count       int
	Remaining   []string // member connIDs still in the room
	RoomDeleted bool
	LeftVideo   bool
	VideoPeers  []string // participant connIDs still in the call
}

// Depart removes the connection from its current room and from that room's
// video call, deleting room and call entries the moment they empty out.
// Safe to call for roomless connections (no-op, ok=false).
func (ms *MemStore) Depart(connID string) (Departure, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ci, ok := ms.conns[connID]
	if !ok {
		return Departure{}, false
	}
	delete(ms.conns, connID)

	dep := Departure{
		RoomID: ci.roomID,
		UserID: ci.userID,
	}
	if m, ok := ms.members[ci.roomID]; ok {
		delete(m, connID)
		dep.Count = len(m)
	}
	dep.VideoPeers, dep.LeftVideo = ms.removeVideoLocked(ci.roomID, connID)
	if dep.Count == 0 {
		delete(ms.rooms, ci.roomID)
		delete(ms.members, ci.roomID)
		delete(ms.video, ci.roomID)
		dep.RoomDeleted = true
	} else {
		dep.Remaining = ms.memberList(ci.roomID)
	}
	return dep, true
}

// Room returns the directory record and current occupancy.
func (ms *MemStore) Room(roomID string) (model.Room, int, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return model.Room{}, 0, ErrRoomNotFound
	}
	return *room, len(ms.members[roomID]), nil
}

// Members returns the connection ids currently in the room.
func (ms *MemStore) Members(roomID string) ([]string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.rooms[roomID]; !ok {
		return nil, false
	}
	return ms.memberList(roomID), true
}

// ResolveUser maps a user id to its connection id within a room.
func (ms *MemStore) ResolveUser(roomID, userID string) (string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for connID, uid := range ms.members[roomID] {
		if uid == userID {
			return connID, true
		}
	}
	return "", false
}

// JoinVideo initializes the room's participant list if needed and returns
// the participants that were present strictly before this join. A rejoin
// of an already-listed connection does not duplicate the entry.
func (ms *MemStore) JoinVideo(roomID, userID, connID string) []model.VideoParticipant {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	existing := make([]model.VideoParticipant, 0, len(ms.video[roomID]))
	present := false
	for _, p := range ms.video[roomID] {
		if p.ConnID == connID {
			present = true
			continue
		}
		existing = append(existing, p)
	}
	if !present {
		ms.video[roomID] = append(ms.video[roomID], model.VideoParticipant{UserID: userID, ConnID: connID})
	}
	return existing
}

// LeaveVideo removes the matching participant entry. Rooms without a video
// entry are a no-op.
func (ms *MemStore) LeaveVideo(roomID, connID string) ([]string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	return ms.removeVideoLocked(roomID, connID)
}

func (ms *MemStore) removeVideoLocked(roomID, connID string) ([]string, bool) {
	list, ok := ms.video[roomID]
	if !ok {
		return nil, false
	}
	remaining := list[:0]
	removed := false
	for _, p := range list {
		if p.ConnID == connID {
			removed = true
			continue
		}
		remaining = append(remaining, p)
	}
	if !removed {
		return nil, false
	}
	if len(remaining) == 0 {
		delete(ms.video, roomID)
		return nil, true
	}
	ms.video[roomID] = remaining
	peers := make([]string, 0, len(remaining))
	for _, p := range remaining {
		peers = append(peers, p.ConnID)
	}
	return peers, true
}

func (ms *MemStore) memberList(roomID string) []string {
	list := make([]string, 0, len(ms.members[roomID]))
	for connID := range ms.members[roomID] {
		list = append(list, connID)
	}
	return list
}
