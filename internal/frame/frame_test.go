package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16EmptyInput(t *testing.T) {
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestReadOneRequestEncode(t *testing.T) {
	req := ReadOneRequest{Address: 0}
	buf := req.Encode()
	require.Len(t, buf, 7)
	assert.Equal(t, StartByte, buf[0])
	assert.Equal(t, byte(cmdReadOne), buf[1])
	assert.Equal(t, byte(0x02), buf[2])
}

func TestDecoderAcceptsReadOneResponse(t *testing.T) {
	d := NewDecoder()
	payload := []byte{0x00, 0x00, 0x68, 0x10}
	frameNoCRC := append([]byte{StartByte, cmdReadOne, byte(len(payload))}, payload...)
	full := appendCRC(frameNoCRC)

	resp, ok, err := d.Feed(full)
	require.NoError(t, err)
	require.True(t, ok)
	r, isReadResp := resp.(ReadOneResponse)
	require.True(t, isReadResp)
	assert.Equal(t, uint16(0x1068), r.Data)
}

func TestDecoderAcceptsFrameSplitAcrossReads(t *testing.T) {
	d := NewDecoder()
	payload := []byte{0x00, 0x00, 0x68, 0x10}
	frameNoCRC := append([]byte{StartByte, cmdReadOne, byte(len(payload))}, payload...)
	full := appendCRC(frameNoCRC)

	resp, ok, err := d.Feed(full[:4])
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, resp)

	resp, ok, err = d.Feed(full[4:])
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, resp)
}

func TestDecoderResyncsOnGarbageBetweenSyncBytes(t *testing.T) {
	d := NewDecoder()
	garbage := []byte{StartByte, 0xFF, 0xFF, 0xFF}

	ack := appendCRC([]byte{StartByte, cmdAck, 0x09})

	resp, ok, err := d.Feed(append(garbage, ack...))
	require.NoError(t, err)
	require.True(t, ok)
	a, isAck := resp.(Ack)
	require.True(t, isAck)
	assert.Equal(t, byte(0x09), a.Cmd)
}

func TestDecoderResyncsAfterCRCFailure(t *testing.T) {
	d := NewDecoder()
	bad := []byte{StartByte, cmdAck, 0x09, 0x00, 0x00} // wrong CRC
	good := appendCRC([]byte{StartByte, cmdAck, 0x0D})

	_, ok, err := d.Feed(append(bad, good...))
	require.True(t, ok)
	require.Error(t, err)

	resp, ok, err := d.Feed(nil)
	require.NoError(t, err)
	require.True(t, ok)
	a, isAck := resp.(Ack)
	require.True(t, isAck)
	assert.Equal(t, byte(0x0D), a.Cmd)
}

func TestBlockReadRequestBigEndianAddress(t *testing.T) {
	req := BlockReadRequest{Address: 0x0024, Count: 2}
	buf := req.Encode()
	assert.Equal(t, byte(0x00), buf[2]) // ADDR_HI
	assert.Equal(t, byte(0x24), buf[3]) // ADDR_LO
}
