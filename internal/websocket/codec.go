package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns a Message into a websocket frame payload
type Codec interface {
	Encode(Message) ([]byte, error)
	MessageType() int
}

// JSONCodec sends text frames
type JSONCodec struct{}

func (JSONCodec) Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %q message: %w", m.Event, err)
	}
	return b, nil
}

func (JSONCodec) MessageType() int { return websocket.TextMessage }

// MsgpackCodec sends binary frames, so image bytes can ride along unencoded
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %q message: %w", m.Event, err)
	}
	return b, nil
}

func (MsgpackCodec) MessageType() int { return websocket.BinaryMessage }
