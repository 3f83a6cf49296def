package service

import (
	"context"
	"encoding/json"

	"github.com/codesync/relay/model"
	"github.com/codesync/relay/storage/memory"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type (
	RoomStore interface {
		CreateRoom(roomID, userID, connID string) (model.Room, bool, int, []string)
		JoinRoom(roomID, userID, connID string) (int, []string, error)
		CurrentRoom(connID string) (string, bool)
		Depart(connID string) (memory.Departure, bool)
		Room(roomID string) (model.Room, int, error)
		Members(roomID string) ([]string, bool)
		ResolveUser(roomID, userID string) (string, bool)
		JoinVideo(roomID, userID, connID string) []model.VideoParticipant
		LeaveVideo(roomID, connID string) ([]string, bool)
	}

	Switch interface {
		Attach(connID string, wire model.Wire)
		Detach(connID string)
		Send(ctx context.Context, connID string, out model.Outbound) bool
		Fanout(ctx context.Context, connIDs []string, except string, out model.Outbound)
	}

	Service struct {
		store  RoomStore
		sw     Switch
		logger zerolog.Logger
	}

	Config struct {
		RoomStore RoomStore
		Switch    Switch
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.RoomStore,
		sw:     cfg.Switch,
		logger: cfg.Logger.With().Str("component", "relay").Logger(),
	}
}

// Connect attaches a fresh connection wire, announces the assigned id to
// the client and starts the connection's dispatch loop. Events from one
// connection are processed in FIFO order; nothing is ordered across
// connections.
func (svc *Service) Connect(ctx context.Context, connID string, wire model.Wire) {
	svc.sw.Attach(connID, wire)
	go func() {
		// sent from here so that Connect can return before the caller's
		// sender pump is up; session always precedes any relayed event
		svc.sw.Send(ctx, connID, model.Outbound{
			Event: model.EventSession,
			Data:  model.Session{ConnectionID: connID},
		})
		svc.route(ctx, connID, wire.RX)
	}()
}

// Disconnect runs the full cleanup cascade for a closed connection: wire
// detach, room membership and video presence removal, room GC, and the
// member-count broadcast to whoever stays behind.
func (svc *Service) Disconnect(ctx context.Context, connID string) {
	svc.sw.Detach(connID)
	if dep, ok := svc.store.Depart(connID); ok {
		svc.notifyDeparture(ctx, connID, dep)
	}
	svc.logger.Debug().
		Str("connID", connID).
		Msg("connection disconnected")
}

// RoomInfo exposes directory data to the ops API.
func (svc *Service) RoomInfo(roomID string) (model.Room, int, error) {
	return svc.store.Room(roomID)
}

func (svc *Service) route(ctx context.Context, connID string, rx <-chan model.Inbound) {
RouteLoop:
	for {
		select {
		case <-ctx.Done():
			break RouteLoop
		case ev, ok := <-rx:
			if !ok {
				break RouteLoop
			}
			svc.dispatch(ctx, ev)
		}
	}
	svc.logger.Debug().
		Str("connID", connID).
		Msg("dispatch loop ended")
}

func (svc *Service) dispatch(ctx context.Context, ev model.Inbound) {
	switch ev.Kind.Policy() {
	case model.PolicyControl:
		svc.handleControl(ctx, ev)
	case model.PolicyInclusive, model.PolicyExclusive:
		svc.relayToRoom(ctx, ev)
	case model.PolicyTarget:
		svc.relayToTarget(ctx, ev)
	}
}

func (svc *Service) handleControl(ctx context.Context, ev model.Inbound) {
	switch ev.Kind {
	case model.KindCreateRoom:
		svc.createRoom(ctx, ev)
	case model.KindJoinRoom:
		svc.joinRoom(ctx, ev)
	case model.KindLeaveRoom:
		svc.leaveRoom(ctx, ev)
	case model.KindJoinVideo:
		svc.joinVideo(ctx, ev)
	case model.KindLeaveVideo:
		svc.leaveVideo(ctx, ev)
	}
}

func (svc *Service) createRoom(ctx context.Context, ev model.Inbound) {
	var req model.RoomRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.UserID == "" {
		svc.drop(ev, "bad create-room payload")
		return
	}
	if req.RoomID == "" {
		req.RoomID = newRoomID()
	}
	svc.autoLeave(ctx, ev.From, req.RoomID)

	room, created, count, members := svc.store.CreateRoom(req.RoomID, req.UserID, ev.From)
	svc.logger.Debug().
		Str("roomID", room.ID).
		Str("userID", req.UserID).
		Bool("created", created).
		Msg("room create handled")

	svc.sw.Send(ctx, ev.From, model.Outbound{
		Event: model.EventRoomCreated,
		Data:  model.RoomCreated{RoomID: room.ID},
	})
	svc.sw.Fanout(ctx, members, "", model.Outbound{
		Event: model.EventActiveUserUpdate,
		Data:  model.ActiveUserUpdate{ActiveUsers: count},
	})
}

func (svc *Service) joinRoom(ctx context.Context, ev model.Inbound) {
	var req model.RoomRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.RoomID == "" || req.UserID == "" {
		svc.drop(ev, "bad join-room payload")
		return
	}
	svc.autoLeave(ctx, ev.From, req.RoomID)

	count, members, err := svc.store.JoinRoom(req.RoomID, req.UserID, ev.From)
	if err != nil {
		svc.logger.Debug().
			Str("roomID", req.RoomID).
			Str("userID", req.UserID).
			Err(err).
			Msg("join rejected")
		svc.sw.Send(ctx, ev.From, model.Outbound{
			Event: model.EventRoomError,
			Data:  model.RoomError{Message: err.Error()},
		})
		return
	}
	svc.logger.Debug().
		Str("roomID", req.RoomID).
		Str("userID", req.UserID).
		Msg("user joined room")

	svc.sw.Fanout(ctx, members, "", model.Outbound{
		Event: model.EventActiveUserUpdate,
		Data:  model.ActiveUserUpdate{ActiveUsers: count},
	})
	svc.sw.Fanout(ctx, members, ev.From, model.Outbound{
		Event: model.EventUserConnected,
		Data:  req.UserID,
	})
	// peers answer with share-file-system addressed back at the joiner
	svc.sw.Fanout(ctx, members, ev.From, model.Outbound{
		Event: model.EventRequestFileSystem,
		Data:  model.FileSystemRequest{RequestingUserID: req.UserID},
	})
}

func (svc *Service) leaveRoom(ctx context.Context, ev model.Inbound) {
	dep, ok := svc.store.Depart(ev.From)
	if !ok {
		svc.drop(ev, "not a room member")
		return
	}
	svc.notifyDeparture(ctx, ev.From, dep)
}

func (svc *Service) joinVideo(ctx context.Context, ev model.Inbound) {
	var req model.RoomRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.RoomID == "" {
		svc.drop(ev, "bad join-video payload")
		return
	}
	members, ok := svc.store.Members(req.RoomID)
	if !ok {
		svc.drop(ev, "room not found")
		return
	}

	// The snapshot must reach the newcomer before anyone learns about it,
	// and must never contain the newcomer itself.
	existing := svc.store.JoinVideo(req.RoomID, req.UserID, ev.From)
	svc.sw.Send(ctx, ev.From, model.Outbound{
		Event: model.EventAllVideoUsers,
		Data:  model.AllVideoUsers{RoomID: req.RoomID, Users: existing},
	})
	svc.sw.Fanout(ctx, members, ev.From, model.Outbound{
		Event: model.EventUserJoinedVideo,
		Data:  model.VideoParticipant{UserID: req.UserID, ConnID: ev.From},
	})
}

func (svc *Service) leaveVideo(ctx context.Context, ev model.Inbound) {
	var req model.RoomRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.RoomID == "" {
		svc.drop(ev, "bad leave-video payload")
		return
	}
	remaining, removed := svc.store.LeaveVideo(req.RoomID, ev.From)
	if !removed {
		return
	}
	svc.sw.Fanout(ctx, remaining, "", model.Outbound{
		Event: model.EventUserLeftVideo,
		Data:  model.VideoParticipant{UserID: req.UserID, ConnID: ev.From},
	})
}

func (svc *Service) relayToRoom(ctx context.Context, ev model.Inbound) {
	var (
		roomID string
		data   any
	)
	if ev.Kind == model.KindChatMessage {
		var msg model.ChatMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			svc.drop(ev, "bad chat payload")
			return
		}
		roomID = msg.RoomID
		data = model.NewMessage{Chat: model.ChatBody{
			UserID:    msg.UserID,
			Message:   msg.Message,
			Timestamp: msg.Timestamp,
		}}
	} else {
		var ref model.RoomRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			svc.drop(ev, "unparsable payload")
			return
		}
		roomID = ref.RoomID
		data = json.RawMessage(ev.Data)
	}
	if roomID == "" {
		svc.drop(ev, "missing room id")
		return
	}
	members, ok := svc.store.Members(roomID)
	if !ok {
		svc.drop(ev, "room not found")
		return
	}

	except := ""
	if ev.Kind.Policy() == model.PolicyExclusive {
		except = ev.From
	}
	svc.sw.Fanout(ctx, members, except, model.Outbound{
		Event: ev.Kind.RelayName(),
		Data:  data,
	})
}

func (svc *Service) relayToTarget(ctx context.Context, ev model.Inbound) {
	if ev.Kind == model.KindShareFileSystem {
		var req model.ShareFileSystem
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.RoomID == "" || req.TargetUserID == "" {
			svc.drop(ev, "bad share-file-system payload")
			return
		}
		connID, ok := svc.store.ResolveUser(req.RoomID, req.TargetUserID)
		if !ok {
			svc.drop(ev, "target user not in room")
			return
		}
		svc.sw.Send(ctx, connID, model.Outbound{
			Event: ev.Kind.RelayName(),
			Data:  model.SyncFileSystem{FileSystem: req.FileSystem},
		})
		return
	}

	// signaling: a pure address-based forward, no room lookup
	var ref model.TargetRef
	if err := json.Unmarshal(ev.Data, &ref); err != nil || ref.Target == "" {
		svc.drop(ev, "missing signaling target")
		return
	}
	svc.sw.Send(ctx, ref.Target, model.Outbound{
		Event: ev.Kind.RelayName(),
		Data:  json.RawMessage(ev.Data),
	})
}

// autoLeave enforces the at-most-one-room rule: joining a new room
// implicitly leaves the previous one with the usual notifications.
func (svc *Service) autoLeave(ctx context.Context, connID, nextRoomID string) {
	cur, ok := svc.store.CurrentRoom(connID)
	if !ok || cur == nextRoomID {
		return
	}
	if dep, ok := svc.store.Depart(connID); ok {
		svc.logger.Debug().
			Str("connID", connID).
			Str("roomID", cur).
			Msg("auto-left previous room")
		svc.notifyDeparture(ctx, connID, dep)
	}
}

func (svc *Service) notifyDeparture(ctx context.Context, connID string, dep memory.Departure) {
	if dep.LeftVideo && len(dep.VideoPeers) > 0 {
		svc.sw.Fanout(ctx, dep.VideoPeers, "", model.Outbound{
			Event: model.EventUserLeftVideo,
			Data:  model.VideoParticipant{UserID: dep.UserID, ConnID: connID},
		})
	}
	if dep.RoomDeleted {
		svc.logger.Debug().
			Str("roomID", dep.RoomID).
			Msg("room deleted, last member left")
		return
	}
	svc.sw.Fanout(ctx, dep.Remaining, "", model.Outbound{
		Event: model.EventUserLeft,
		Data:  model.UserLeft{UserID: dep.UserID},
	})
	svc.sw.Fanout(ctx, dep.Remaining, "", model.Outbound{
		Event: model.EventActiveUserUpdate,
		Data:  model.ActiveUserUpdate{ActiveUsers: dep.Count},
	})
}

func (svc *Service) drop(ev model.Inbound, reason string) {
	svc.logger.Debug().
		Str("event", ev.Kind.String()).
		Str("connID", ev.From).
		Str("reason", reason).
		Msg("event dropped")
	if svc.logger.GetLevel() <= zerolog.TraceLevel {
		svc.logger.Trace().Str("payload", spew.Sdump(ev)).Msg("dropped payload")
	}
}

func newRoomID() string {
	return uuid.NewString()[:8]
}
