// Package wire implements the RDP packet codec: a fixed 1032-byte
// layout of [seq:4 BE][data:1024][flag:4 BE]. Decode is intentionally
// total — any 1032-byte buffer parses into a Packet, with the flag
// range and session state machine providing the only sanity check.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Flag identifies the purpose of a Packet's Data field.
type Flag uint32

const (
	FlagStart Flag = 1
	FlagData  Flag = 2
	FlagAck   Flag = 3
	FlagError Flag = 4
)

func (f Flag) String() string {
	switch f {
	case FlagStart:
		return "START"
	case FlagData:
		return "DATA"
	case FlagAck:
		return "ACK"
	case FlagError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(f))
	}
}

// DataSize is the fixed width of a Packet's payload field on the wire.
const DataSize = 1024

// Size is the total serialized length of a Packet.
const Size = 4 + DataSize + 4

// Packet is the single on-wire unit of the RDP protocol.
type Packet struct {
	Seq  uint32
	Data [DataSize]byte
	Flag Flag
}

// Encode serializes pkt into a fixed 1032-byte buffer.
func Encode(pkt Packet) [Size]byte {
	var buf [Size]byte
	binary.BigEndian.PutUint32(buf[0:4], pkt.Seq)
	copy(buf[4:4+DataSize], pkt.Data[:])
	binary.BigEndian.PutUint32(buf[4+DataSize:Size], uint32(pkt.Flag))
	return buf
}

// Decode parses buf into a Packet. It never fails: any DataSize+8 byte
// slice yields a value, garbage included. Callers shorter than Size are
// zero-padded on read, never panic.
func Decode(buf []byte) Packet {
	var pkt Packet
	if len(buf) >= 4 {
		pkt.Seq = binary.BigEndian.Uint32(buf[0:4])
	}
	if len(buf) > 4 {
		n := copy(pkt.Data[:], buf[4:])
		_ = n
	}
	if len(buf) >= Size {
		pkt.Flag = Flag(binary.BigEndian.Uint32(buf[4+DataSize : Size]))
	}
	return pkt
}

// DataString returns the NUL-terminated interpretation of pkt.Data, the
// same strlen() semantics the original protocol uses when writing
// received DATA payloads to a chunk scratch file. Binary payloads that
// contain an embedded NUL byte truncate here by design — see
// SPEC_FULL.md section 9, preserved quirk 2.
func (pkt Packet) DataString() string {
	for i, b := range pkt.Data {
		if b == 0 {
			return string(pkt.Data[:i])
		}
	}
	return string(pkt.Data[:])
}

// NewTextPacket builds a DATA packet carrying s as its NUL-terminated
// payload, used for the filename/connect-count/offset handshake fields.
func NewTextPacket(seq uint32, s string) Packet {
	var pkt Packet
	pkt.Seq = seq
	pkt.Flag = FlagData
	copy(pkt.Data[:], s)
	return pkt
}

// NewDataPacket builds a DATA packet carrying raw bytes, truncated to
// DataSize if necessary.
func NewDataPacket(seq uint32, payload []byte) Packet {
	var pkt Packet
	pkt.Seq = seq
	pkt.Flag = FlagData
	n := copy(pkt.Data[:], payload)
	_ = n
	return pkt
}

// NewAck builds an ACK packet with an empty (space) payload, matching
// the original protocol's sprintf(data, " ").
func NewAck(seq uint32) Packet {
	var pkt Packet
	pkt.Seq = seq
	pkt.Flag = FlagAck
	pkt.Data[0] = ' '
	return pkt
}

// NewError builds an ERROR packet with an empty (space) payload.
func NewError(seq uint32) Packet {
	var pkt Packet
	pkt.Seq = seq
	pkt.Flag = FlagError
	pkt.Data[0] = ' '
	return pkt
}
