package model

import "encoding/json"

// RoomRequest is the payload of create-room and join-room.
type RoomRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomRef is the probe decoded from relayed payloads that must carry a
// room id. The rest of the payload is forwarded untouched.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// TargetRef is the probe for single-target payloads addressed by
// connection id (offer, answer, ice-candidate).
type TargetRef struct {
	Target string `json:"target"`
}

type ChatMessage struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type ChatBody struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type NewMessage struct {
	Chat ChatBody `json:"chat"`
}

type ShareFileSystem struct {
	RoomID       string          `json:"roomId"`
	TargetUserID string          `json:"targetUserId"`
	FileSystem   json.RawMessage `json:"fileSystem"`
}

type SyncFileSystem struct {
	FileSystem json.RawMessage `json:"fileSystem"`
}

type Session struct {
	ConnectionID string `json:"connectionId"`
}

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type RoomError struct {
	Message string `json:"message"`
}

type ActiveUserUpdate struct {
	ActiveUsers int `json:"activeUsers"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type FileSystemRequest struct {
	RequestingUserID string `json:"requestingUserId"`
}

type AllVideoUsers struct {
	RoomID string             `json:"roomId"`
	Users  []VideoParticipant `json:"users"`
}
