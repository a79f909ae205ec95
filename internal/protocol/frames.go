// Package protocol defines the frames exchanged over the sync transport.
//
// A connection starts with the host sending welcome (carrying the opaque
// client id). The client answers with hello naming the document; the document
// id travels only inside this frame, never in the connection URL. The host
// replies with the full snapshot, then both sides exchange update frames until
// the client sends bye or the transport drops.
package protocol

import (
	"encoding/json"
	"errors"
	"sync"

	"party-cards/internal/doc"

	"github.com/go-playground/validator/v10"
)

const (
	TypeWelcome  = "welcome"
	TypeHello    = "hello"
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
	TypeBye      = "bye"
	TypeError    = "error"
)

const (
	ReasonRateLimited     = "rate_limited"
	ReasonTooLarge        = "message_too_large"
	ReasonInvalidFrame    = "invalid_frame"
	ReasonNotAttached     = "not_attached"
	ReasonAlreadyAttached = "already_attached"
	ReasonIdentityBusy    = "identity_in_other_session"
	ReasonCollected       = "document_collected"
)

// ClientHeader carries the client id on SSE fallback posts.
const ClientHeader = "X-Sync-Client"

type Frame struct {
	Type     string        `json:"type" validate:"required,oneof=welcome hello snapshot update bye error"`
	Client   string        `json:"client,omitempty" validate:"max=64"`
	Document string        `json:"document,omitempty" validate:"omitempty,alphanum,max=32"`
	Identity string        `json:"identity,omitempty" validate:"max=128"`
	Snapshot *doc.Snapshot `json:"snapshot,omitempty"`
	Update   *doc.Update   `json:"update,omitempty"`
	Reason   string        `json:"reason,omitempty" validate:"max=256"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once

	ErrMissingDocument = errors.New("hello requires a document")
	ErrMissingUpdate   = errors.New("update frame requires an update")
	ErrMissingSnapshot = errors.New("snapshot frame requires a snapshot")
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Decode parses and validates one frame.
func Decode(payload []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, err
	}
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (f Frame) Validate() error {
	if err := validatorInstance().Struct(f); err != nil {
		return err
	}
	switch f.Type {
	case TypeHello:
		if f.Document == "" {
			return ErrMissingDocument
		}
	case TypeUpdate:
		if f.Update == nil {
			return ErrMissingUpdate
		}
	case TypeSnapshot:
		if f.Snapshot == nil {
			return ErrMissingSnapshot
		}
	}
	return nil
}

func Encode(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func Welcome(clientID string) Frame {
	return Frame{Type: TypeWelcome, Client: clientID}
}

func Hello(document, identity string) Frame {
	return Frame{Type: TypeHello, Document: document, Identity: identity}
}

func SnapshotFrame(document string, snap doc.Snapshot) Frame {
	return Frame{Type: TypeSnapshot, Document: document, Snapshot: &snap}
}

func UpdateFrame(update doc.Update) Frame {
	return Frame{Type: TypeUpdate, Update: &update}
}

func Bye() Frame {
	return Frame{Type: TypeBye}
}

func Error(reason string) Frame {
	return Frame{Type: TypeError, Reason: reason}
}
