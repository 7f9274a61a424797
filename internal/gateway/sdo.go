package gateway

import (
	"encoding/binary"
	"fmt"

	"go.einride.tech/can"
)

// Expedited SDO framing per CiA 301. Only the expedited transfer (up to 4
// data bytes) is needed here; every EPOS object this package touches fits.
const (
	sdoRxBase uint32 = 0x600 // client -> server
	sdoTxBase uint32 = 0x580 // server -> client

	sdoCCSDownload = 1
	sdoCCSUpload   = 2
	sdoSCSUpload   = 2
	sdoSCSDownload = 3
	sdoCSAbort     = 4
)

// sdoDownloadFrame builds a client->server expedited download (object write).
func sdoDownloadFrame(nodeID uint8, index uint16, subindex uint8, data []byte) (can.Frame, error) {
	if len(data) == 0 || len(data) > 4 {
		return can.Frame{}, fmt.Errorf("expedited download needs 1..4 bytes, got %d", len(data))
	}
	var f can.Frame
	f.ID = sdoRxBase + uint32(nodeID)
	f.Length = 8
	n := uint8(4 - len(data)) // unused bytes in 4..7
	// ccs in bits 7..5, n in bits 3..2, e (expedited) bit 1, s (size) bit 0
	cmd := byte(sdoCCSDownload)<<5 | (n&0x3)<<2 | 1<<1 | 1
	f.Data[0] = cmd
	binary.LittleEndian.PutUint16(f.Data[1:3], index)
	f.Data[3] = subindex
	copy(f.Data[4:], data)
	return f, nil
}

// sdoUploadFrame builds a client->server upload request (object read).
func sdoUploadFrame(nodeID uint8, index uint16, subindex uint8) can.Frame {
	var f can.Frame
	f.ID = sdoRxBase + uint32(nodeID)
	f.Length = 8
	f.Data[0] = byte(sdoCCSUpload) << 5
	binary.LittleEndian.PutUint16(f.Data[1:3], index)
	f.Data[3] = subindex
	return f
}

// parseSDOResponse validates a server->client frame against the request
// index/subindex and returns the payload for uploads (nil for a download
// acknowledgement). An abort transfer is surfaced as the device abort code.
func parseSDOResponse(f can.Frame, nodeID uint8, index uint16, subindex uint8) ([]byte, uint32, error) {
	if f.ID != sdoTxBase+uint32(nodeID) {
		return nil, 0, fmt.Errorf("unexpected COB-ID 0x%X", f.ID)
	}
	if f.Length != 8 {
		return nil, 0, fmt.Errorf("SDO frame length %d, want 8", f.Length)
	}
	gotIndex := binary.LittleEndian.Uint16(f.Data[1:3])
	if gotIndex != index || f.Data[3] != subindex {
		return nil, 0, fmt.Errorf("response for 0x%04X/%02X, want 0x%04X/%02X",
			gotIndex, f.Data[3], index, subindex)
	}
	cmd := f.Data[0]
	switch (cmd >> 5) & 0x7 {
	case sdoCSAbort:
		return nil, binary.LittleEndian.Uint32(f.Data[4:8]), nil
	case sdoSCSDownload:
		return nil, 0, nil
	case sdoSCSUpload:
		if cmd&(1<<1) == 0 {
			return nil, 0, fmt.Errorf("segmented upload not supported (cmd=0x%02X)", cmd)
		}
		size := 4
		if cmd&1 != 0 {
			size = 4 - int((cmd>>2)&0x3)
		}
		out := make([]byte, size)
		copy(out, f.Data[4:4+size])
		return out, 0, nil
	default:
		return nil, 0, fmt.Errorf("unexpected SDO command 0x%02X", cmd)
	}
}

func u16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func i16Bytes(v int16) []byte { return u16Bytes(uint16(v)) }

func i32Bytes(v int32) []byte { return u32Bytes(uint32(v)) }
