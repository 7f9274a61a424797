package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

func TestSDODownloadFrame(t *testing.T) {
	f, err := sdoDownloadFrame(1, 0x6040, 0x00, u16Bytes(0x000F))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x601), f.ID)
	assert.Equal(t, uint8(8), f.Length)
	// expedited, size indicated, 2 unused bytes
	assert.Equal(t, byte(0x2B), f.Data[0])
	assert.Equal(t, byte(0x40), f.Data[1])
	assert.Equal(t, byte(0x60), f.Data[2])
	assert.Equal(t, byte(0x00), f.Data[3])
	assert.Equal(t, byte(0x0F), f.Data[4])
	assert.Equal(t, byte(0x00), f.Data[5])
}

func TestSDODownloadFrameSizes(t *testing.T) {
	// Command byte per payload size: 0x2F, 0x2B, 0x27, 0x23.
	want := map[int]byte{1: 0x2F, 2: 0x2B, 3: 0x27, 4: 0x23}
	for size, cmd := range want {
		f, err := sdoDownloadFrame(1, 0x2000, 0x01, make([]byte, size))
		require.NoError(t, err)
		assert.Equal(t, cmd, f.Data[0], "size %d", size)
	}

	_, err := sdoDownloadFrame(1, 0x2000, 0x01, nil)
	assert.Error(t, err)
	_, err = sdoDownloadFrame(1, 0x2000, 0x01, make([]byte, 5))
	assert.Error(t, err)
}

func TestSDOUploadFrame(t *testing.T) {
	f := sdoUploadFrame(0x7F, 0x1018, 0x04)
	assert.Equal(t, uint32(0x67F), f.ID)
	assert.Equal(t, byte(0x40), f.Data[0])
	assert.Equal(t, byte(0x18), f.Data[1])
	assert.Equal(t, byte(0x10), f.Data[2])
	assert.Equal(t, byte(0x04), f.Data[3])
}

func TestParseSDOResponseUpload(t *testing.T) {
	// Expedited upload response, 2 bytes valid (cmd 0x4B).
	f := can.Frame{ID: 0x581, Length: 8,
		Data: can.Data{0x4B, 0x41, 0x60, 0x00, 0x37, 0x02, 0x00, 0x00}}

	payload, abort, err := parseSDOResponse(f, 1, 0x6041, 0x00)
	require.NoError(t, err)
	assert.Zero(t, abort)
	assert.Equal(t, []byte{0x37, 0x02}, payload)
}

func TestParseSDOResponseDownloadAck(t *testing.T) {
	f := can.Frame{ID: 0x581, Length: 8,
		Data: can.Data{0x60, 0x40, 0x60, 0x00, 0, 0, 0, 0}}

	payload, abort, err := parseSDOResponse(f, 1, 0x6040, 0x00)
	require.NoError(t, err)
	assert.Zero(t, abort)
	assert.Nil(t, payload)
}

func TestParseSDOResponseAbort(t *testing.T) {
	// Abort 0x06020000: object does not exist.
	f := can.Frame{ID: 0x581, Length: 8,
		Data: can.Data{0x80, 0x00, 0x20, 0x01, 0x00, 0x00, 0x02, 0x06}}

	_, abort, err := parseSDOResponse(f, 1, 0x2000, 0x01)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x06020000), abort)
}

func TestParseSDOResponseMismatch(t *testing.T) {
	f := can.Frame{ID: 0x581, Length: 8,
		Data: can.Data{0x60, 0x40, 0x60, 0x00, 0, 0, 0, 0}}

	// Wrong node.
	_, _, err := parseSDOResponse(f, 2, 0x6040, 0x00)
	assert.Error(t, err)

	// Wrong index.
	_, _, err = parseSDOResponse(f, 1, 0x6041, 0x00)
	assert.Error(t, err)
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Op: "SetMotorType", Code: 0x0F00FFB9}
	assert.Contains(t, err.Error(), "SetMotorType")
	assert.Contains(t, err.Error(), "0xF00FFB9")
}

func TestOperationModeString(t *testing.T) {
	assert.Equal(t, "Profile Position Mode", ProfilePositionMode.String())
	assert.Equal(t, "Profile Velocity Mode", ProfileVelocityMode.String())
	assert.Equal(t, "Current Mode", CurrentMode.String())
	assert.Contains(t, OperationMode(42).String(), "Unknown")
}
