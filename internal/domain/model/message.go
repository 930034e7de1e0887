package model

import "fmt"

// MessageKind selects how an outbound message is rendered by the transport.
type MessageKind uint8

// Outbound message kinds.
const (
	MessagePrivmsg MessageKind = iota
	MessageNotice
	MessageAction
)

var messageKindNames = [...]string{
	MessagePrivmsg: "privmsg",
	MessageNotice:  "notice",
	MessageAction:  "action",
}

// String returns the lowercase name of the kind.
func (k MessageKind) String() string {
	if int(k) < len(messageKindNames) {
		return messageKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k MessageKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MessageKind) UnmarshalText(b []byte) error {
	for i, n := range messageKindNames {
		if n == string(b) {
			*k = MessageKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown message kind: %q", string(b))
}

// Message is a reply produced by a plugin, destined for a channel or nick.
type Message struct {
	Target string      `json:"target"`
	Text   string      `json:"text"`
	Kind   MessageKind `json:"kind"`
}
