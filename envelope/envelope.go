// Package envelope implements the wire format carried over the
// overlay: a typed payload plus the sender's stable DHT key and a
// unique envelope ID, JSON-encoded and capped at 32 KiB.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cvsouth/duplex-go/overlay"
)

// MaxSize is the largest serialized envelope Encode will produce. The
// overlay's own frame limit sits above this; payloads above it are
// rejected here rather than fragmented. Decode does not check it.
const MaxSize = 32 * 1024

// ErrPayloadTooLarge is returned when encoding an envelope exceeds
// MaxSize. It is fatal to the send in progress; the caller must
// shrink or split the payload itself.
var ErrPayloadTooLarge = errors.New("envelope: serialized payload exceeds 32KiB")

// MalformedEnvelopeError wraps a decode failure. The call that carried
// the malformed bytes is still ACKed by the dispatcher; this error is
// logged and the message is discarded.
type MalformedEnvelopeError struct {
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("envelope: malformed: %v", e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// Envelope is the application message tuple carried over the overlay.
type Envelope[T any] struct {
	Data         T      `json:"data"`
	OriginDHTKey string `json:"origin_dht_key"`
	EnvelopeID   string `json:"envelope_id"`
}

// New builds an envelope for data originating from origin, assigning
// a fresh version-4 UUID envelope ID.
func New[T any](data T, origin overlay.TypedKey) Envelope[T] {
	return Envelope[T]{
		Data:         data,
		OriginDHTKey: origin.String(),
		EnvelopeID:   uuid.NewString(),
	}
}

// Origin parses OriginDHTKey back into a TypedKey.
func (e Envelope[T]) Origin() (overlay.TypedKey, error) {
	return overlay.ParseTypedKey(e.OriginDHTKey)
}

// Encode serializes the envelope to its wire form, rejecting blobs
// over MaxSize.
func (e Envelope[T]) Encode() ([]byte, error) {
	blob, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}
	if len(blob) > MaxSize {
		return nil, ErrPayloadTooLarge
	}
	return blob, nil
}

// Decode deserializes a wire blob into a typed envelope. Decode
// failure is always wrapped in a *MalformedEnvelopeError.
func Decode[T any](blob []byte) (Envelope[T], error) {
	var e Envelope[T]
	if err := json.Unmarshal(blob, &e); err != nil {
		return e, &MalformedEnvelopeError{Err: err}
	}
	return e, nil
}
