// Package message implements the latency sub-protocol spoken over session
// text frames. A frame carrying {"type":"ping","seq":X} is answered with
// {"type":"pong","seq":X}; anything else is echoed back unchanged.
package message

import (
	jsoniter "github.com/json-iterator/go"
)

// Field names are matched exactly: {"TYPE":"ping"} is not a ping.
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

const (
	// TypePing is the type of a latency request.
	TypePing = "ping"
	// TypePong is the type of the reply to a TypePing message.
	TypePong = "pong"
)

// Kind is the classification of a text frame.
type Kind int

const (
	// KindEcho frames are sent back verbatim.
	KindEcho = Kind(iota)
	// KindPing frames are answered with a pong.
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	default:
		return "echo"
	}
}

// Message is the structured form of a sub-protocol frame. Seq is kept as
// raw JSON so that any value round-trips untouched.
type Message struct {
	Type string             `json:"type"`
	Seq  jsoniter.RawMessage `json:"seq,omitempty"`
}

// HasSeq reports whether the message carries a non-null seq.
func (m *Message) HasSeq() bool {
	return len(m.Seq) > 0 && string(m.Seq) != "null"
}

// Parse decodes data as a Message.
func Parse(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// Classify tells whether data is a well formed ping. The returned Message
// is only meaningful for KindPing.
func Classify(data []byte) (Kind, Message) {
	m, err := Parse(data)
	if err != nil || m.Type != TypePing || !m.HasSeq() {
		return KindEcho, Message{}
	}
	return KindPing, m
}

// Pong encodes the reply to a ping with the given seq.
func Pong(seq jsoniter.RawMessage) ([]byte, error) {
	return json.Marshal(Message{Type: TypePong, Seq: seq})
}

// Reply returns the payload to send back in response to the text frame
// data, together with its classification.
func Reply(data []byte) (Kind, []byte) {
	kind, m := Classify(data)
	if kind != KindPing {
		return KindEcho, data
	}
	out, err := Pong(m.Seq)
	if err != nil {
		return KindEcho, data
	}
	return KindPing, out
}
