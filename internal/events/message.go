// Package events defines the JSON message protocol exchanged between the auth
// service and its collaborators, and the broker topology that carries it.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates the payload carried by an Envelope.
type Type string

const (
	TypeAccountPending          Type = "ACCOUNT_PENDING"
	TypeVerificationEmailSent   Type = "VERIFICATION_EMAIL_SENT"
	TypeVerificationEmailFailed Type = "VERIFICATION_EMAIL_FAILED"
	TypePasswordResetRequested  Type = "PASSWORD_RESET_REQUESTED"
	TypeUserProfileDeleted      Type = "USER_PROFILE_DELETED"
)

// ErrUnknownMessageType is returned by Decode for a type outside the protocol.
var ErrUnknownMessageType = errors.New("events: unknown message type")

// Envelope is the wire shape of every message: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes a raw message body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Message is the closed set of protocol payloads. Only types declared in this
// package satisfy it.
type Message interface {
	MessageType() Type
	Route() Route
	sealed()
}

// AccountPending starts the registration saga.
type AccountPending struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
	VerificationToken string `json:"verificationToken"`
}

// VerificationEmailSent commits the registration saga.
type VerificationEmailSent struct {
	UserID string `json:"userId"`
}

// VerificationEmailFailed triggers the compensating delete.
type VerificationEmailFailed struct {
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// PasswordResetRequested asks the notification service to mail a reset link.
type PasswordResetRequested struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	ResetToken string `json:"resetToken"`
}

// UserProfileDeleted is emitted by the profile service when a user is removed.
type UserProfileDeleted struct {
	UserID string `json:"userId"`
}

func (AccountPending) MessageType() Type          { return TypeAccountPending }
func (VerificationEmailSent) MessageType() Type   { return TypeVerificationEmailSent }
func (VerificationEmailFailed) MessageType() Type { return TypeVerificationEmailFailed }
func (PasswordResetRequested) MessageType() Type  { return TypePasswordResetRequested }
func (UserProfileDeleted) MessageType() Type      { return TypeUserProfileDeleted }

func (AccountPending) Route() Route          { return Route{SagaExchange, RoutingAccountPending} }
func (VerificationEmailSent) Route() Route   { return Route{SagaExchange, RoutingEmailSent} }
func (VerificationEmailFailed) Route() Route { return Route{SagaExchange, RoutingEmailFailed} }
func (PasswordResetRequested) Route() Route  { return Route{UserEventsExchange, RoutingUserEvents} }
func (UserProfileDeleted) Route() Route      { return Route{UserEventsExchange, RoutingUserEvents} }

func (AccountPending) sealed()          {}
func (VerificationEmailSent) sealed()   {}
func (VerificationEmailFailed) sealed() {}
func (PasswordResetRequested) sealed()  {}
func (UserProfileDeleted) sealed()      {}

// Encode wraps a message into its envelope.
func Encode(m Message) (Envelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return Envelope{Type: m.MessageType(), Payload: payload}, nil
}

// Decode resolves the envelope into its concrete message. Unknown types yield
// ErrUnknownMessageType so consumers can acknowledge and skip them.
func Decode(env Envelope) (Message, error) {
	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeAccountPending:
		var m AccountPending
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeVerificationEmailSent:
		var m VerificationEmailSent
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeVerificationEmailFailed:
		var m VerificationEmailFailed
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypePasswordResetRequested:
		var m PasswordResetRequested
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeUserProfileDeleted:
		var m UserProfileDeleted
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}
