package internal

import "errors"

// Per-event failures. None of these tear down a connection or a room.
var (
	ErrAuthRejected      = errors.New("auth rejected")
	ErrRoomNotFound      = errors.New("room not found")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrRateLimited       = errors.New("rate limited")

	errRoomClosed    = errors.New("room closed")
	errSessionClosed = errors.New("session closed")
	errNotMember     = errors.New("connection is not a member of the room")
)

// errorCode maps an error to the name reported to the originating client.
// Errors the client should never see return "".
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRecipientNotFound):
		return "RecipientNotFound"
	case errors.Is(err, ErrPayloadTooLarge):
		return "PayloadTooLarge"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	}
	return ""
}
