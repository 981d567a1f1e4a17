package crq

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Command/Response Queue entry:
// 0                                                                       31
// |-----------------------------------------------------------------------|
// |  Valid (uint8)  |  Type (uint8)  |          Reserved (uint16)         | 32
// |-----------------------------------------------------------------------|
// |                          Reserved1 (uint32)                           | 64
// |-----------------------------------------------------------------------|
// |                             Token (uint64)                            | 96
// |                                                                       | 128
// |-----------------------------------------------------------------------|

type m = map[string]any

// Len is the size of one queue entry. Firmware expects exactly this layout.
const Len = 16

type Valid uint8
type MessageType uint8

const (
	Free      Valid = 0x00
	Command   Valid = 0x80
	Init      Valid = 0xC0
	Transport Valid = 0xFF
)

var validMap = map[Valid]string{
	Free:      "free",
	Command:   "command",
	Init:      "init",
	Transport: "transport",
}

const (
	InitRequest  MessageType = 0x01
	InitComplete MessageType = 0x02
)

const (
	PartnerFailed       MessageType = 0x01
	PartnerDeregistered MessageType = 0x02
)

const (
	VTermAvailable    MessageType = 0x01
	VTermOpenResponse MessageType = 0x02
	VTermDataReady    MessageType = 0x03
	VTermClosed       MessageType = 0x04
	VTermError        MessageType = 0x05
)

var ErrMessageTooShort = errors.New("message is too short")

var subTypeNoneMap = map[MessageType]string{0: "none"}

var subTypeMap = map[Valid]*map[MessageType]string{
	Free: &subTypeNoneMap,
	Command: {
		VTermAvailable:    "vtermAvailable",
		VTermOpenResponse: "vtermOpenResponse",
		VTermDataReady:    "vtermDataReady",
		VTermClosed:       "vtermClosed",
		VTermError:        "vtermError",
	},
	Init: {
		InitRequest:  "init",
		InitComplete: "initComplete",
	},
	Transport: {
		PartnerFailed:       "partnerFailed",
		PartnerDeregistered: "partnerDeregistered",
	},
}

type Message struct {
	Valid     Valid
	Type      MessageType
	Reserved  uint16
	Reserved1 uint32
	Token     uint64
}

// Encode uses the provided byte array to encode the provided message values into.
// Byte array must be capped higher than Len or this will panic
func Encode(b []byte, v Valid, t MessageType, token uint64) []byte {
	b = b[:Len]
	b[0] = byte(v)
	b[1] = byte(t)
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint32(b[4:8], 0)
	binary.BigEndian.PutUint64(b[8:16], token)
	return b
}

// Encode turns the message into bytes, reserved fields included
func (msg *Message) Encode(b []byte) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}

	b = Encode(b, msg.Valid, msg.Type, msg.Token)
	binary.BigEndian.PutUint16(b[2:4], msg.Reserved)
	binary.BigEndian.PutUint32(b[4:8], msg.Reserved1)
	return b, nil
}

// Parse is a helper function to parse given bytes into the message
func (msg *Message) Parse(b []byte) error {
	if len(b) < Len {
		return ErrMessageTooShort
	}
	msg.Valid = Valid(b[0])
	msg.Type = MessageType(b[1])
	msg.Reserved = binary.BigEndian.Uint16(b[2:4])
	msg.Reserved1 = binary.BigEndian.Uint32(b[4:8])
	msg.Token = binary.BigEndian.Uint64(b[8:16])
	return nil
}

// Words splits the message into the two doublewords carried by the send hypercall.
func (msg *Message) Words() (hi, lo uint64) {
	var b [Len]byte
	_, _ = msg.Encode(b[:])
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])
}

// FromWords is the inverse of Message.Words
func FromWords(hi, lo uint64) Message {
	var b [Len]byte
	binary.BigEndian.PutUint64(b[0:8], hi)
	binary.BigEndian.PutUint64(b[8:16], lo)

	var msg Message
	_ = msg.Parse(b[:])
	return msg
}

// String creates a readable string representation of a message
func (msg *Message) String() string {
	if msg == nil {
		return "<nil>"
	}
	return fmt.Sprintf("valid=%s type=%s reserved=%#x reserved1=%#x token=%#x",
		msg.ValidName(), msg.TypeName(), msg.Reserved, msg.Reserved1, msg.Token)
}

// MarshalJSON creates a json string representation of a message
func (msg *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m{
		"valid":     msg.ValidName(),
		"type":      msg.TypeName(),
		"reserved":  msg.Reserved,
		"reserved1": msg.Reserved1,
		"token":     msg.Token,
	})
}

func (msg *Message) ValidName() string {
	return ValidName(msg.Valid)
}

// ValidName will transform a validity tag into a human string
func ValidName(v Valid) string {
	if n, ok := validMap[v]; ok {
		return n
	}

	return "unknown"
}

func (msg *Message) TypeName() string {
	return TypeName(msg.Valid, msg.Type)
}

// TypeName will transform a message type into a human string, types only have meaning relative to the tag
func TypeName(v Valid, t MessageType) string {
	if n, ok := subTypeMap[v]; ok {
		if x, ok := (*n)[t]; ok {
			return x
		}
	}

	return "unknown"
}

// NewMessage turns bytes into a message
func NewMessage(b []byte) (*Message, error) {
	msg := new(Message)
	if err := msg.Parse(b); err != nil {
		return nil, err
	}
	return msg, nil
}
