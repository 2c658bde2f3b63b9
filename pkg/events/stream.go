package events

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Event type tags used in a stream envelope.
const (
	TypeChannel  = "channel"
	TypeMessage  = "message"
	TypeReaction = "reaction"
	TypeReceipt  = "receipt"
)

// ErrMalformedEvent is returned for envelopes that cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is one line of an event stream: {"type": "...", "event": {...}}.
type envelope struct {
	Type  string              `json:"type"`
	Event jsoniter.RawMessage `json:"event"`
}

// Decode parses one envelope into its typed event.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var (
		ev  any
		err error
	)
	switch env.Type {
	case TypeChannel:
		var e ChannelUpdate
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case TypeMessage:
		var e MessageEvent
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case TypeReaction:
		var e ReactionEvent
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case TypeReceipt:
		var e ReceiptEvent
		err = json.Unmarshal(env.Event, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return ev, nil
}

// Encode wraps ev in a stream envelope.
func Encode(ev any) ([]byte, error) {
	var typ string
	switch ev.(type) {
	case ChannelUpdate, *ChannelUpdate:
		typ = TypeChannel
	case MessageEvent, *MessageEvent:
		typ = TypeMessage
	case ReactionEvent, *ReactionEvent:
		typ = TypeReaction
	case ReceiptEvent, *ReceiptEvent:
		typ = TypeReceipt
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Event: raw})
}

// ApplyStream applies newline-delimited envelopes from r in order and returns
// the number applied. Blank lines are skipped; the first failing line stops
// the stream.
func (in *Ingestor) ApplyStream(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	applied := 0
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		ev, err := Decode(data)
		if err != nil {
			return applied, fmt.Errorf("line %d: %w", line, err)
		}
		if err := in.Apply(ctx, ev); err != nil {
			return applied, fmt.Errorf("line %d: %w", line, err)
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("failed to read events: %w", err)
	}
	return applied, nil
}
