package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/abossard/vjuniverse/errors"
)

const bundleTag = "#bundle"

// Parse decodes a UDP packet into OSC messages. A plain message yields one
// element; bundles are unwrapped recursively. Truncated or malformed packets
// return a parsing error and never panic.
func Parse(data []byte) ([]*Message, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "Parse", "empty packet")
	}

	if data[0] == '#' {
		return parseBundle(data)
	}

	msg, err := parseMessage(data)
	if err != nil {
		return nil, err
	}
	return []*Message{msg}, nil
}

func parseBundle(data []byte) ([]*Message, error) {
	tag, rest, err := readString(data)
	if err != nil || tag != bundleTag {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseBundle", "bundle tag check")
	}
	if len(rest) < 8 {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseBundle", "timetag read")
	}
	rest = rest[8:] // timetag ignored; engine is tick-driven

	var out []*Message
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseBundle", "element size read")
		}
		size := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if size < 0 || size > len(rest) {
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseBundle", "element bounds check")
		}
		inner, err := Parse(rest[:size])
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
		rest = rest[size:]
	}
	return out, nil
}

func parseMessage(data []byte) (*Message, error) {
	address, rest, err := readString(data)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseMessage", "address read")
	}
	if address == "" || address[0] != '/' {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: address %q", errors.ErrParsingFailed, address),
			"osc", "parseMessage", "address validation")
	}

	// A message without a type tag string carries no arguments.
	if len(rest) == 0 {
		return &Message{Address: address}, nil
	}

	tags, rest, err := readString(rest)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseMessage", "type tag read")
	}
	if tags == "" || tags[0] != ',' {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: type tags %q", errors.ErrParsingFailed, tags),
			"osc", "parseMessage", "type tag validation")
	}

	msg := &Message{Address: address, Args: make([]any, 0, len(tags)-1)}
	for _, tag := range tags[1:] {
		var arg any
		switch tag {
		case 'i':
			var v int32
			v, rest, err = readInt32(rest)
			arg = v
		case 'f':
			var v float32
			v, rest, err = readFloat32(rest)
			arg = v
		case 's':
			var v string
			v, rest, err = readString(rest)
			arg = v
		case 'b':
			var v []byte
			v, rest, err = readBlob(rest)
			arg = v
		case 'h':
			var v int64
			v, rest, err = readInt64(rest)
			arg = v
		case 'd':
			var v float64
			v, rest, err = readFloat64(rest)
			arg = v
		case 'T':
			arg = true
		case 'F':
			arg = false
		case 'N':
			arg = nil
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: type tag %q", errors.ErrParsingFailed, string(tag)),
				"osc", "parseMessage", "argument decode")
		}
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "osc", "parseMessage", "argument decode")
		}
		msg.Args = append(msg.Args, arg)
	}

	return msg, nil
}

// Marshal encodes the message into OSC wire format.
func (m *Message) Marshal() ([]byte, error) {
	if m.Address == "" || m.Address[0] != '/' {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: address %q", errors.ErrInvalidData, m.Address),
			"osc", "Marshal", "address validation")
	}

	var buf bytes.Buffer
	writeString(&buf, m.Address)

	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	var payload bytes.Buffer
	for _, a := range m.Args {
		switch v := a.(type) {
		case int32:
			tags = append(tags, 'i')
			_ = binary.Write(&payload, binary.BigEndian, v)
		case int:
			tags = append(tags, 'i')
			_ = binary.Write(&payload, binary.BigEndian, int32(v))
		case int64:
			tags = append(tags, 'h')
			_ = binary.Write(&payload, binary.BigEndian, v)
		case float32:
			tags = append(tags, 'f')
			_ = binary.Write(&payload, binary.BigEndian, v)
		case float64:
			tags = append(tags, 'd')
			_ = binary.Write(&payload, binary.BigEndian, v)
		case string:
			tags = append(tags, 's')
			writeString(&payload, v)
		case []byte:
			tags = append(tags, 'b')
			writeBlob(&payload, v)
		case bool:
			if v {
				tags = append(tags, 'T')
			} else {
				tags = append(tags, 'F')
			}
		case nil:
			tags = append(tags, 'N')
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: unsupported argument type %T", errors.ErrInvalidData, a),
				"osc", "Marshal", "argument encode")
		}
	}

	writeString(&buf, string(tags))
	buf.Write(payload.Bytes())
	return buf.Bytes(), nil
}

// readString reads a null-terminated, 4-byte padded OSC string.
func readString(data []byte) (string, []byte, error) {
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", nil, fmt.Errorf("unterminated string")
	}
	s := string(data[:end])
	// consume padding up to the next 4-byte boundary
	next := (end/4 + 1) * 4
	if next > len(data) {
		return "", nil, fmt.Errorf("truncated string padding")
	}
	return s, data[next:], nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	pad := 4 - buf.Len()%4
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}

func readBlob(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated blob size")
	}
	size := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if size < 0 || size > len(data) {
		return nil, nil, fmt.Errorf("blob out of bounds")
	}
	blob := make([]byte, size)
	copy(blob, data[:size])
	next := (size + 3) / 4 * 4
	if next > len(data) {
		return nil, nil, fmt.Errorf("truncated blob padding")
	}
	return blob, data[next:], nil
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
	pad := (4 - len(b)%4) % 4
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}

func readInt32(data []byte) (int32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("truncated int32")
	}
	return int32(binary.BigEndian.Uint32(data)), data[4:], nil
}

func readInt64(data []byte) (int64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("truncated int64")
	}
	return int64(binary.BigEndian.Uint64(data)), data[8:], nil
}

func readFloat32(data []byte) (float32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("truncated float32")
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), data[4:], nil
}

func readFloat64(data []byte) (float64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("truncated float64")
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), data[8:], nil
}
