package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body. A stroke at the point limit
// encodes well under it.
const MaxFrameSize = 64 << 10

const headerSize = 4

var ErrMalformed = errors.New("malformed message")

type envelope struct {
	Kind     Kind            `json:"kind"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type decodeFunc func(json.RawMessage) (any, error)

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[Kind]decodeFunc{
	KindJoin:             decodeAs[Join],
	KindWelcome:          decodeAs[Welcome],
	KindLeave:            decodeAs[Leave],
	KindListRooms:        decodeAs[ListRooms],
	KindRoomList:         decodeAs[RoomList],
	KindCreateRoom:       decodeAs[CreateRoom],
	KindJoinRoom:         decodeAs[JoinRoom],
	KindRoomSnapshot:     decodeAs[RoomSnapshot],
	KindChat:             decodeAs[Chat],
	KindGuess:            decodeAs[Guess],
	KindStroke:           decodeAs[Stroke],
	KindClearCanvas:      decodeAs[ClearCanvas],
	KindStartRound:       decodeAs[StartRound],
	KindKick:             decodeAs[Kick],
	KindRoundStateUpdate: decodeAs[RoundStateUpdate],
	KindScoreUpdate:      decodeAs[ScoreUpdate],
	KindGameResult:       decodeAs[GameResult],
	KindError:            decodeAs[Error],
}

// Encode serializes a message body (without the frame header).
func Encode(msg Message) ([]byte, error) {
	env := envelope{Kind: msg.Kind, RoomID: msg.RoomID, SenderID: msg.SenderID}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: empty kind", ErrMalformed)
	}

	switch p := msg.Payload.(type) {
	case nil:
	case Unrecognized:
		env.Payload = p.Raw
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Kind, err)
		}
		env.Payload = raw
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %s body is %d bytes", ErrMalformed, msg.Kind, len(body))
	}
	return body, nil
}

// Decode parses a message body. Kinds this server does not know come back
// as Unrecognized so callers can ignore them without dropping the peer.
func Decode(body []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" {
		return Message{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}

	msg := Message{Kind: env.Kind, RoomID: env.RoomID, SenderID: env.SenderID}
	decode, ok := decoders[env.Kind]
	if !ok {
		msg.Payload = Unrecognized{Kind: env.Kind, Raw: env.Payload}
		return msg, nil
	}

	payload, err := decode(env.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Kind, err)
	}
	msg.Payload = payload
	return msg, nil
}

// ===== Framing =====

// WriteFrame writes a 4-byte big-endian length followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 || len(body) > MaxFrameSize {
		return fmt.Errorf("%w: frame length %d", ErrMalformed, len(body))
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame blocks until a whole frame has arrived. io.EOF is returned
// unchanged on a clean close between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d", ErrMalformed, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

func WriteMessage(w io.Writer, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

func ReadMessage(r io.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return Decode(body)
}
