package model

import (
	"encoding/json"
	"time"
)

// Kind enumerates every inbound event the relay understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateRoom
	KindJoinRoom
	KindLeaveRoom
	KindChatMessage
	KindCursorMoved
	KindCodeChanged
	KindFileCreated
	KindFolderCreated
	KindFileUpdated
	KindFileRenamed
	KindFileDeleted
	KindFileMoved
	KindRequestFiles
	KindShareFiles
	KindShareFileSystem
	KindJoinVideo
	KindLeaveVideo
	KindOffer
	KindAnswer
	KindICECandidate
)

// Policy is the broadcast rule attached to an event kind.
type Policy int

const (
	// PolicyControl events mutate membership state and are handled by the router itself.
	PolicyControl Policy = iota
	// PolicyInclusive events go to every room member, sender included.
	PolicyInclusive
	// PolicyExclusive events go to every room member except the sender.
	PolicyExclusive
	// PolicyTarget events go to exactly one connection.
	PolicyTarget
)

// Inbound event names.
const (
	EventCreateRoom      = "create-room"
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventChatMessage     = "chat-message"
	EventCursorMoved     = "cursor-moved"
	EventCodeChangedIn   = "code-changed[FRONTEND]"
	EventFileCreated     = "file-created"
	EventFolderCreated   = "folder-created"
	EventFileUpdated     = "file-updated"
	EventFileRenamed     = "file-renamed"
	EventFileDeleted     = "file-deleted"
	EventFileMoved       = "file-moved"
	EventRequestFiles    = "request-files"
	EventShareFiles      = "share-files"
	EventShareFileSystem = "share-file-system"
	EventJoinVideo       = "join-video-call"
	EventLeaveVideo      = "leave-video-call"
	EventOffer           = "offer"
	EventAnswer          = "answer"
	EventICECandidate    = "ice-candidate"
)

// Outbound event names that differ from (or do not exist as) inbound ones.
const (
	EventSession           = "session"
	EventRoomCreated       = "room-created"
	EventRoomError         = "room-error"
	EventActiveUserUpdate  = "active-user-update"
	EventUserConnected     = "user-connected"
	EventUserLeft          = "user-left"
	EventRequestFileSystem = "request-file-system"
	EventSyncFileSystem    = "sync-file-system"
	EventNewMessage        = "new-message"
	EventCodeChangedOut    = "code-changed[SERVER]"
	EventAllVideoUsers     = "all-video-users"
	EventUserJoinedVideo   = "user-joined-video"
	EventUserLeftVideo     = "user-left-video"
)

type kindSpec struct {
	name    string
	policy  Policy
	relayAs string // outbound name, when it differs from the inbound one
}

var kindTable = map[Kind]kindSpec{
	KindCreateRoom:      {name: EventCreateRoom, policy: PolicyControl},
	KindJoinRoom:        {name: EventJoinRoom, policy: PolicyControl},
	KindLeaveRoom:       {name: EventLeaveRoom, policy: PolicyControl},
	KindChatMessage:     {name: EventChatMessage, policy: PolicyInclusive, relayAs: EventNewMessage},
	KindCursorMoved:     {name: EventCursorMoved, policy: PolicyExclusive},
	KindCodeChanged:     {name: EventCodeChangedIn, policy: PolicyExclusive, relayAs: EventCodeChangedOut},
	KindFileCreated:     {name: EventFileCreated, policy: PolicyInclusive},
	KindFolderCreated:   {name: EventFolderCreated, policy: PolicyInclusive},
	KindFileUpdated:     {name: EventFileUpdated, policy: PolicyInclusive},
	KindFileRenamed:     {name: EventFileRenamed, policy: PolicyInclusive},
	KindFileDeleted:     {name: EventFileDeleted, policy: PolicyInclusive},
	KindFileMoved:       {name: EventFileMoved, policy: PolicyInclusive},
	KindRequestFiles:    {name: EventRequestFiles, policy: PolicyInclusive},
	KindShareFiles:      {name: EventShareFiles, policy: PolicyInclusive},
	KindShareFileSystem: {name: EventShareFileSystem, policy: PolicyTarget, relayAs: EventSyncFileSystem},
	KindJoinVideo:       {name: EventJoinVideo, policy: PolicyControl},
	KindLeaveVideo:      {name: EventLeaveVideo, policy: PolicyControl},
	KindOffer:           {name: EventOffer, policy: PolicyTarget},
	KindAnswer:          {name: EventAnswer, policy: PolicyTarget},
	KindICECandidate:    {name: EventICECandidate, policy: PolicyTarget},
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindTable))
	for k, spec := range kindTable {
		m[spec.name] = k
	}
	return m
}()

// KindByName resolves an inbound event name to its kind.
func KindByName(name string) (Kind, bool) {
	k, ok := kindByName[name]
	return k, ok
}

func (k Kind) String() string {
	if spec, ok := kindTable[k]; ok {
		return spec.name
	}
	return "unknown"
}

func (k Kind) Policy() Policy {
	return kindTable[k].policy
}

// RelayName is the event name peers receive, which for a few kinds
// differs from the name the sender used.
func (k Kind) RelayName() string {
	spec := kindTable[k]
	if spec.relayAs != "" {
		return spec.relayAs
	}
	return spec.name
}

// Room is a directory record; membership is tracked separately.
type Room struct {
	ID        string    `json:"room_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type VideoParticipant struct {
	UserID string `json:"userId"`
	ConnID string `json:"connectionId"`
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound is a decoded client frame. From is the connection id, assigned
// server-side from the websocket session.
type Inbound struct {
	Kind Kind
	From string
	Data json.RawMessage
}

type Outbound struct {
	Event string
	Data  any
}

type Wire struct {
	RX chan Inbound
	TX chan Outbound
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Inbound),
		TX: make(chan Outbound),
	}
}
