package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{Seq: 1, Flag: FlagAck},
		{Seq: 0xFFFFFFFF, Flag: FlagError},
		NewTextPacket(42, "hello.txt"),
		NewDataPacket(7, []byte("chunk of bytes\x00with junk after nul")),
	}

	for _, pkt := range cases {
		buf := Encode(pkt)
		require.Len(t, buf, Size)
		got := Decode(buf[:])
		assert.Equal(t, pkt.Seq, got.Seq)
		assert.Equal(t, pkt.Flag, got.Flag)

		wantStr := pkt.DataString()
		assert.Equal(t, wantStr, got.DataString())
	}
}

func TestEncodeByteOrder(t *testing.T) {
	pkt := Packet{Seq: 0x01020304, Flag: FlagData}
	buf := Encode(pkt)

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02}, buf[len(buf)-4:])
}

func TestDecodeIsTotal(t *testing.T) {
	// Decode must never fail, even on undersized or garbage input.
	assert.NotPanics(t, func() {
		Decode(nil)
		Decode([]byte{0x01})
		Decode(make([]byte, Size))
		Decode(make([]byte, Size*3))
	})
}

func TestDataStringStopsAtNul(t *testing.T) {
	pkt := NewTextPacket(1, "abc")
	require.Equal(t, "abc", pkt.DataString())

	var raw Packet
	copy(raw.Data[:], "leading")
	raw.Data[7] = 0
	copy(raw.Data[8:], "trailing-garbage")
	assert.Equal(t, "leading", raw.DataString())
}
