// Package protocol defines the JSON messages exchanged between a referee
// terminal and the scoring server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when an inbound payload cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// Target is the competitor a score is awarded to.
type Target string

const (
	TargetRed  Target = "red"
	TargetBlue Target = "blue"
)

// Valid reports whether t is one of the two competitor colours.
func (t Target) Valid() bool {
	return t == TargetRed || t == TargetBlue
}

// Action values with protocol meaning. Score actions are free-form labels.
const (
	ActionHeartbeat = "heartbeat"
	ActionPong      = "pong"
	ActionScoreAck  = "score_ack"
	ActionScore     = "score"
	ActionPenalty   = "penalty"
)

// Technique labels sent by the terminal's scoring keys.
const (
	TechniquePunch     = "punch"
	TechniqueBodyTap   = "body_tap"
	TechniqueBodySwipe = "body_swipe"
	TechniqueHeadTap   = "head_tap"
	TechniqueHeadSwipe = "head_swipe"
)

// ScoreEvent is one referee gesture to be transmitted.
type ScoreEvent struct {
	Target Target
	Points int
	Action string
}

// Validate checks the event can be put on the wire.
func (e ScoreEvent) Validate() error {
	if !e.Target.Valid() {
		return fmt.Errorf("invalid target %q", e.Target)
	}
	if e.Points < 0 {
		return fmt.Errorf("negative points %d", e.Points)
	}
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return errors.New("empty action")
	}
	if action == ActionHeartbeat {
		return fmt.Errorf("action %q is reserved", action)
	}
	return nil
}

// ScoreMessage is the outbound score payload.
type ScoreMessage struct {
	RefereeID int    `json:"refereeId"`
	Action    string `json:"action"`
	Points    int    `json:"points"`
	Target    Target `json:"target"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// NewScoreMessage stamps ev with the sender identity and time.
func NewScoreMessage(refereeID int, ev ScoreEvent, nowMillis int64) ScoreMessage {
	return ScoreMessage{
		RefereeID: refereeID,
		Action:    ev.Action,
		Points:    ev.Points,
		Target:    ev.Target,
		Timestamp: nowMillis,
	}
}

// HeartbeatMessage is the outbound liveness probe. Seq is an extension the
// server may echo back in its pong; servers that ignore it still work.
type HeartbeatMessage struct {
	RefereeID int    `json:"refereeId"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	Seq       uint64 `json:"seq,omitempty"`
}

// NewHeartbeat builds probe number seq.
func NewHeartbeat(refereeID int, seq uint64, nowMillis int64) HeartbeatMessage {
	return HeartbeatMessage{
		RefereeID: refereeID,
		Action:    ActionHeartbeat,
		Timestamp: nowMillis,
		Seq:       seq,
	}
}

// ServerMessage is any inbound payload. Only Action is guaranteed.
type ServerMessage struct {
	Action    string `json:"action"`
	RefereeID int    `json:"refereeId,omitempty"`
	Points    *int   `json:"points,omitempty"`
	Target    Target `json:"target,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
}

// ClientMessage is the union of the two outbound shapes as seen by a server.
type ClientMessage struct {
	RefereeID int    `json:"refereeId"`
	Action    string `json:"action"`
	Points    *int   `json:"points,omitempty"`
	Target    Target `json:"target,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Decode parses an inbound frame.
func Decode(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Action == "" {
		return ServerMessage{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return msg, nil
}

// DecodeClient parses an outbound frame; used by the development server.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Action == "" {
		return ClientMessage{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return msg, nil
}
