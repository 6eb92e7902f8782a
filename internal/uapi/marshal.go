package uapi

import (
	"encoding/binary"
)

// Marshal converts a PassthruCmd to the 72-byte wire layout the nvme
// ioctls expect. Other uapi types never cross into userspace-constructed
// buffers in this module (Identify/Report Zones data is always read
// from the kernel, never built), so Marshal only handles PassthruCmd.
func Marshal(cmd *PassthruCmd) []byte {
	buf := make([]byte, 72)

	buf[0] = cmd.Opcode
	buf[1] = cmd.Flags
	binary.LittleEndian.PutUint16(buf[2:4], cmd.Rsvd1)
	binary.LittleEndian.PutUint32(buf[4:8], cmd.Nsid)
	binary.LittleEndian.PutUint32(buf[8:12], cmd.Cdw2)
	binary.LittleEndian.PutUint32(buf[12:16], cmd.Cdw3)
	binary.LittleEndian.PutUint64(buf[16:24], cmd.Metadata)
	binary.LittleEndian.PutUint64(buf[24:32], cmd.Addr)
	binary.LittleEndian.PutUint32(buf[32:36], cmd.MetadataLen)
	binary.LittleEndian.PutUint32(buf[36:40], cmd.DataLen)
	binary.LittleEndian.PutUint32(buf[40:44], cmd.Cdw10)
	binary.LittleEndian.PutUint32(buf[44:48], cmd.Cdw11)
	binary.LittleEndian.PutUint32(buf[48:52], cmd.Cdw12)
	binary.LittleEndian.PutUint32(buf[52:56], cmd.Cdw13)
	binary.LittleEndian.PutUint32(buf[56:60], cmd.Cdw14)
	binary.LittleEndian.PutUint32(buf[60:64], cmd.Cdw15)
	binary.LittleEndian.PutUint32(buf[64:68], cmd.TimeoutMs)
	binary.LittleEndian.PutUint32(buf[68:72], cmd.Result)

	return buf
}

// Unmarshal reads a PassthruCmd back out of its 72-byte wire layout,
// used after an ioctl round-trip to recover the Result field the
// kernel wrote back.
func Unmarshal(data []byte, cmd *PassthruCmd) error {
	if len(data) < 72 {
		return ErrInsufficientData
	}

	cmd.Opcode = data[0]
	cmd.Flags = data[1]
	cmd.Rsvd1 = binary.LittleEndian.Uint16(data[2:4])
	cmd.Nsid = binary.LittleEndian.Uint32(data[4:8])
	cmd.Cdw2 = binary.LittleEndian.Uint32(data[8:12])
	cmd.Cdw3 = binary.LittleEndian.Uint32(data[12:16])
	cmd.Metadata = binary.LittleEndian.Uint64(data[16:24])
	cmd.Addr = binary.LittleEndian.Uint64(data[24:32])
	cmd.MetadataLen = binary.LittleEndian.Uint32(data[32:36])
	cmd.DataLen = binary.LittleEndian.Uint32(data[36:40])
	cmd.Cdw10 = binary.LittleEndian.Uint32(data[40:44])
	cmd.Cdw11 = binary.LittleEndian.Uint32(data[44:48])
	cmd.Cdw12 = binary.LittleEndian.Uint32(data[48:52])
	cmd.Cdw13 = binary.LittleEndian.Uint32(data[52:56])
	cmd.Cdw14 = binary.LittleEndian.Uint32(data[56:60])
	cmd.Cdw15 = binary.LittleEndian.Uint32(data[60:64])
	cmd.TimeoutMs = binary.LittleEndian.Uint32(data[64:68])
	cmd.Result = binary.LittleEndian.Uint32(data[68:72])

	return nil
}

// DecodeZoneReport parses a Report Zones data buffer (header followed by
// NumZones ZoneDescriptor entries) as returned by a Zone Management
// Receive command.
func DecodeZoneReport(data []byte) (*ZoneReportHeader, []ZoneDescriptor, error) {
	if len(data) < 64 {
		return nil, nil, ErrInsufficientData
	}
	hdr := &ZoneReportHeader{
		NumZones: binary.LittleEndian.Uint64(data[0:8]),
	}

	want := int(hdr.NumZones)
	avail := (len(data) - 64) / 64
	if want > avail {
		want = avail
	}

	zones := make([]ZoneDescriptor, want)
	for i := 0; i < want; i++ {
		off := 64 + i*64
		z := &zones[i]
		z.ZoneType = data[off]
		z.ZoneState = data[off+1]
		z.ZoneAttrs = data[off+2]
		z.ZoneStartLBA = binary.LittleEndian.Uint64(data[off+8 : off+16])
		z.WritePointer = binary.LittleEndian.Uint64(data[off+16 : off+24])
		z.ZoneCapacity = binary.LittleEndian.Uint64(data[off+24 : off+32])
	}
	return hdr, zones, nil
}

// DecodeIdentNamespace parses the leading fields of a 4096-byte Identify
// Namespace data buffer.
func DecodeIdentNamespace(data []byte) (*IdentNamespace, error) {
	if len(data) < 128 {
		return nil, ErrInsufficientData
	}
	ns := &IdentNamespace{
		Nsze:   binary.LittleEndian.Uint64(data[0:8]),
		Ncap:   binary.LittleEndian.Uint64(data[8:16]),
		Nuse:   binary.LittleEndian.Uint64(data[16:24]),
		Nsfeat: data[24],
		Nlbaf:  data[25],
		Flbas:  data[26],
		Mc:     data[27],
		Dpc:    data[28],
		Dps:    data[29],
	}
	for i := 0; i < 16 && 128+i*4+4 <= len(data); i++ {
		off := 128 + i*4
		ns.Lbaf[i] = LBAFormat{
			Ms:    binary.LittleEndian.Uint16(data[off : off+2]),
			Lbads: data[off+2],
			Rp:    data[off+3],
		}
	}
	return ns, nil
}

// DecodeIdentNamespaceZNS parses the Zcap/Zsize-bearing fields of a
// 4096-byte ZNS Identify Namespace data buffer (CNS=0x05).
func DecodeIdentNamespaceZNS(data []byte) (*IdentNamespaceZNS, error) {
	if len(data) < 16+16*16 {
		return nil, ErrInsufficientData
	}
	zns := &IdentNamespaceZNS{
		Zoc:  binary.LittleEndian.Uint16(data[0:2]),
		Ozcs: binary.LittleEndian.Uint16(data[2:4]),
		Mar:  binary.LittleEndian.Uint32(data[4:8]),
		Mor:  binary.LittleEndian.Uint32(data[8:12]),
		Rrl:  binary.LittleEndian.Uint32(data[12:16]),
		Frl:  binary.LittleEndian.Uint32(data[16:20]),
	}
	base := 2816 // Identify Namespace ZNS: LBAFE array starts at byte 2816
	for i := 0; i < 16 && base+i*16+8 <= len(data); i++ {
		off := base + i*16
		zns.Lbafe[i] = LBAFormatExtension{
			Zsze: binary.LittleEndian.Uint64(data[off : off+8]),
			Zdes: data[off+8],
		}
	}
	return zns, nil
}

// DecodeIdentController parses the leading fields (through Mdts) of a
// 4096-byte Identify Controller data buffer.
func DecodeIdentController(data []byte) (*IdentController, error) {
	if len(data) < 78 {
		return nil, ErrInsufficientData
	}
	ic := &IdentController{
		VendorID:   binary.LittleEndian.Uint16(data[0:2]),
		SSVendorID: binary.LittleEndian.Uint16(data[2:4]),
		Rab:        data[75],
		Cmic:       data[76],
		Mdts:       data[77],
	}
	copy(ic.SerialNumber[:], data[4:24])
	copy(ic.ModelNumber[:], data[24:64])
	copy(ic.FirmwareRev[:], data[64:72])
	return ic, nil
}

// MarshalError is the uapi package's error type.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
