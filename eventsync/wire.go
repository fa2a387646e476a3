// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the wire envelope. Every frame exchanged with the server
// is an Envelope whose Data payload is decoded according to this tag.
type MessageType string

const (
	MsgEventCreated      MessageType = "event_created"
	MsgEventUpdated      MessageType = "event_updated"
	MsgEventDeleted      MessageType = "event_deleted"
	MsgUserJoined        MessageType = "user_joined"
	MsgUserLeft          MessageType = "user_left"
	MsgCommentAdded      MessageType = "comment_added"
	MsgSyncResponse      MessageType = "sync_response"
	MsgHeartbeat         MessageType = "heartbeat"
	MsgHeartbeatResponse MessageType = "heartbeat_response"
	MsgAuth              MessageType = "auth"
)

// Envelope is the transport-agnostic frame. Outbound mutation frames
// additionally carry the pending-operation fields (ID, Timestamp, UserID) so
// the server can attribute and acknowledge them.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// EventDeletedPayload carries a deletion: id plus the version the deletion
// was issued at, so stale deletes can be rejected by version comparison.
type EventDeletedPayload struct {
	EventID string `json:"eventId"`
	Version int64  `json:"version"`
}

// MembershipPayload carries a join or leave.
type MembershipPayload struct {
	EventID  string `json:"eventId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Version  int64  `json:"version"`
}

// SyncResponsePayload is the server's ack/nack for a previously sent
// operation. ID matches the id field of the outbound mutation frame.
type SyncResponsePayload struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AuthPayload is sent first on every fresh connection so the server can
// attribute subsequent frames. Token is optional (JWT when configured).
type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// NewEnvelope marshals payload into a typed envelope.
func NewEnvelope(t MessageType, payload any) (*Envelope, error) {
	env := &Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// NewOperationEnvelope wraps a pending operation into its wire frame,
// carrying the operation id, timestamp and originating user alongside the
// payload so the server can acknowledge it by id.
func NewOperationEnvelope(op *PendingSyncOperation) *Envelope {
	return &Envelope{
		Type:      MessageType(op.Type),
		Data:      op.Payload,
		ID:        op.ID,
		Timestamp: op.Timestamp.UnixMilli(),
		UserID:    op.OriginatingUserID,
	}
}

// Encode renders the envelope as a JSON frame.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEnvelope parses a raw inbound frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type tag")
	}
	return &env, nil
}

// DecodePayload decodes the envelope's data into the concrete payload struct
// for its message type. This is the single dispatch point for the tagged
// union; callers type-switch on the result. Heartbeat frames decode to nil.
func (e *Envelope) DecodePayload() (any, error) {
	switch e.Type {
	case MsgEventCreated, MsgEventUpdated:
		var rec EventRecord
		if err := json.Unmarshal(e.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &rec, nil
	case MsgEventDeleted:
		var p EventDeletedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &p, nil
	case MsgUserJoined, MsgUserLeft:
		var p MembershipPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &p, nil
	case MsgCommentAdded:
		var c EventComment
		if err := json.Unmarshal(e.Data, &c); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &c, nil
	case MsgSyncResponse:
		var p SyncResponsePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &p, nil
	case MsgAuth:
		var p AuthPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return &p, nil
	case MsgHeartbeat, MsgHeartbeatResponse:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}
}
