package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/drawguess/internal"
)

func TestEncodeDecode_Stroke(t *testing.T) {
	msg := Message{
		Kind:     KindStroke,
		RoomID:   "room-1",
		SenderID: "p1",
		Payload: Stroke{
			Points: []internal.Point{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4}},
			Tool:   internal.Tool{Color: "#ff0000", Width: 4},
		},
	}

	body, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestEncode_WireShape(t *testing.T) {
	body, err := Encode(Message{Kind: KindGuess, RoomID: "r", Payload: Guess{Text: "apple"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "guess", raw["kind"])
	assert.Equal(t, "r", raw["room_id"])
	assert.Equal(t, map[string]any{"text": "apple"}, raw["payload"])
}

func TestDecode_EmptyPayloadUsesZeroValue(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"start_round"}`))
	require.NoError(t, err)
	assert.Equal(t, StartRound{}, got.Payload)

	got, err = Decode([]byte(`{"kind":"list_rooms","payload":null}`))
	require.NoError(t, err)
	assert.Equal(t, ListRooms{}, got.Payload)
}

func TestDecode_UnknownKind(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"emote","payload":{"face":":)"}}`))
	require.NoError(t, err)

	u, ok := got.Payload.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, Kind("emote"), u.Kind)
	assert.JSONEq(t, `{"face":":)"}`, string(u.Raw))
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"kind":`,
		"missing kind":   `{"payload":{}}`,
		"payload shape":  `{"kind":"guess","payload":{"text":42}}`,
		"payload string": `{"kind":"stroke","payload":"oops"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestFrame_RoundTripAcrossPartialReads(t *testing.T) {
	var buf bytes.Buffer
	first := Message{Kind: KindChat, SenderID: "a", Payload: Chat{Text: "hello"}}
	second := Message{Kind: KindClearCanvas, RoomID: "r", Payload: ClearCanvas{}}
	require.NoError(t, WriteMessage(&buf, first))
	require.NoError(t, WriteMessage(&buf, second))

	r := iotest.OneByteReader(&buf)
	got, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = ReadMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"kind":"chat"}`)))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_BadLength(t *testing.T) {
	for _, n := range []uint32{0, MaxFrameSize + 1} {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], n)
		_, err := ReadFrame(bytes.NewReader(header[:]))
		assert.ErrorIs(t, err, ErrMalformed, "length %d", n)
	}
}

func TestWriteFrame_RejectsOversize(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrMalformed)

	err = WriteFrame(io.Discard, nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoomOptions_Apply(t *testing.T) {
	rounds, seconds := 3, 30
	off := false
	opts := RoomOptions{Rounds: &rounds, RoundSeconds: &seconds, AllowLateJoin: &off, Words: []string{"kite"}}

	cfg := opts.Apply(internal.DefaultRoomConfig())
	assert.Equal(t, 3, cfg.Rounds)
	assert.Equal(t, 30*time.Second, cfg.RoundDuration)
	assert.False(t, cfg.AllowLateJoin)
	assert.Equal(t, []string{"kite"}, cfg.Words)
	assert.Equal(t, internal.MaxPlayersPerRoom, cfg.MaxPlayers)

	assert.Equal(t, internal.DefaultRoomConfig(), RoomOptions{}.Apply(internal.DefaultRoomConfig()))
}

func TestRoomOptions_ApplyHugeDurationsFailValidation(t *testing.T) {
	for _, secs := range []int{math.MaxInt64 / 1_000_000_000 * 2, math.MaxInt, 3601, -math.MaxInt} {
		opts := RoomOptions{RoundSeconds: &secs, CountdownSeconds: &secs}
		cfg := opts.Apply(internal.DefaultRoomConfig())
		assert.ErrorIs(t, cfg.Validate(), internal.ErrInvalidConfig, "seconds=%d", secs)
	}

	hour := 3600
	cfg := RoomOptions{RoundSeconds: &hour}.Apply(internal.DefaultRoomConfig())
	assert.Equal(t, time.Hour, cfg.RoundDuration)
	assert.NoError(t, cfg.Validate())
}
