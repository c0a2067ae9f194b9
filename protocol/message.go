package protocol

import (
	"encoding/binary"
)

// TLV tag bytes for the Announcement message.
const (
	tagAnnounceNickname  = 0x01
	tagAnnounceNoiseKey  = 0x02
	tagAnnounceSigningKey = 0x03
)

// Announcement is the payload of an ANNOUNCE packet: identity introduction,
// signed and broadcast once when the backend starts; it is not re-sent on
// a timer.
type Announcement struct {
	Nickname        string
	NoisePublicKey  [32]byte
	SigningPublicKey [32]byte
}

// EncodeAnnouncement serializes an Announcement as TLV.
func EncodeAnnouncement(a *Announcement) []byte {
	var out []byte
	out = appendTLV(out, tagAnnounceNickname, []byte(a.Nickname))
	out = appendTLV(out, tagAnnounceNoiseKey, a.NoisePublicKey[:])
	out = appendTLV(out, tagAnnounceSigningKey, a.SigningPublicKey[:])
	return out
}

// DecodeAnnouncement parses a TLV-encoded Announcement. Unknown tags are
// skipped; missing required fields are not an error here — callers that
// require a complete identity check the zero value of NoisePublicKey/
// SigningPublicKey themselves.
func DecodeAnnouncement(data []byte) (*Announcement, error) {
	a := &Announcement{}
	return a, walkTLV(data, func(tag byte, value []byte) error {
		switch tag {
		case tagAnnounceNickname:
			a.Nickname = string(value)
		case tagAnnounceNoiseKey:
			if len(value) != 32 {
				return ErrMalformed
			}
			copy(a.NoisePublicKey[:], value)
		case tagAnnounceSigningKey:
			if len(value) != 32 {
				return ErrMalformed
			}
			copy(a.SigningPublicKey[:], value)
		}
		return nil
	})
}

// TLV tag bytes for the FilePacket message.
const (
	tagFileName    = 0x01
	tagFileSize    = 0x02
	tagFileMime    = 0x03
	tagFileContent = 0x04
)

// FilePacket is the payload of a FILE_TRANSFER message or an in-band file
// share within a MESSAGE broadcast.
type FilePacket struct {
	FileName string
	FileSize uint64
	MimeType string
	Content  []byte
}

// EncodeFilePacket serializes a FilePacket using the preferred (4-byte)
// field widths; legacy widths are decode-only tolerance, never produced.
func EncodeFilePacket(f *FilePacket) []byte {
	var out []byte
	out = appendTLV(out, tagFileName, []byte(f.FileName))

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(f.FileSize))
	out = appendTLV(out, tagFileSize, size[:])

	out = appendTLV(out, tagFileMime, []byte(f.MimeType))

	var contentLen [4]byte
	binary.BigEndian.PutUint32(contentLen[:], uint32(len(f.Content)))
	value := make([]byte, 0, 4+len(f.Content))
	value = append(value, contentLen[:]...)
	value = append(value, f.Content...)
	out = appendTLV(out, tagFileContent, value)

	return out
}

// DecodeFilePacket parses a FilePacket, tolerating the legacy 8-byte
// fileSize and 2-byte content-length-prefix widths on decode.
func DecodeFilePacket(data []byte) (*FilePacket, error) {
	f := &FilePacket{}
	err := walkTLV(data, func(tag byte, value []byte) error {
		switch tag {
		case tagFileName:
			f.FileName = string(value)
		case tagFileMime:
			f.MimeType = string(value)
		case tagFileSize:
			switch len(value) {
			case 4:
				f.FileSize = uint64(binary.BigEndian.Uint32(value))
			case 8:
				f.FileSize = binary.BigEndian.Uint64(value)
			default:
				return ErrMalformed
			}
		case tagFileContent:
			switch {
			case len(value) >= 4:
				n := binary.BigEndian.Uint32(value[:4])
				if uint32(len(value)-4) < n {
					return ErrMalformed
				}
				f.Content = append([]byte(nil), value[4:4+n]...)
			case len(value) >= 2:
				n := binary.BigEndian.Uint16(value[:2])
				if uint16(len(value)-2) < n {
					return ErrMalformed
				}
				f.Content = append([]byte(nil), value[2:2+int(n)]...)
			default:
				return ErrMalformed
			}
		}
		return nil
	})
	return f, err
}

// NoisePayloadType tags the inner body of a decrypted NoisePayload envelope.
type NoisePayloadType byte

const (
	NoisePayloadPrivateMessage NoisePayloadType = 0x01
	NoisePayloadDelivered      NoisePayloadType = 0x02
	NoisePayloadReadReceipt    NoisePayloadType = 0x03
	NoisePayloadFileTransfer   NoisePayloadType = 0x04
)

// NoisePayload is the tagged envelope carried inside a Noise transport
// message: one byte of type followed by the type's inner body.
type NoisePayload struct {
	Type NoisePayloadType
	Data []byte
}

// EncodeNoisePayload prefixes data with its type tag.
func EncodeNoisePayload(p *NoisePayload) []byte {
	out := make([]byte, 1+len(p.Data))
	out[0] = byte(p.Type)
	copy(out[1:], p.Data)
	return out
}

// DecodeNoisePayload splits a decrypted transport message into its type
// tag and inner body.
func DecodeNoisePayload(data []byte) (*NoisePayload, error) {
	if len(data) < 1 {
		return nil, ErrMalformed
	}
	return &NoisePayload{
		Type: NoisePayloadType(data[0]),
		Data: append([]byte(nil), data[1:]...),
	}, nil
}

// TLV tags for the PrivateMessage body carried inside a PRIVATE_MESSAGE
// NoisePayload.
const (
	tagPMMessageID = 0x01
	tagPMContent   = 0x02
)

// PrivateMessage is the inner TLV of a PRIVATE_MESSAGE NoisePayload.
type PrivateMessage struct {
	MessageID [16]byte // UUID
	Content   []byte
}

// EncodePrivateMessage serializes a PrivateMessage as TLV.
func EncodePrivateMessage(m *PrivateMessage) []byte {
	var out []byte
	out = appendTLV(out, tagPMMessageID, m.MessageID[:])
	out = appendTLV(out, tagPMContent, m.Content)
	return out
}

// DecodePrivateMessage parses a TLV-encoded PrivateMessage.
func DecodePrivateMessage(data []byte) (*PrivateMessage, error) {
	m := &PrivateMessage{}
	return m, walkTLV(data, func(tag byte, value []byte) error {
		switch tag {
		case tagPMMessageID:
			if len(value) != 16 {
				return ErrMalformed
			}
			copy(m.MessageID[:], value)
		case tagPMContent:
			m.Content = append([]byte(nil), value...)
		}
		return nil
	})
}

// SyncClass identifies one of the per-type bounded stores GossipSync
// tracks, matching the bit positions of RequestSync.TypeBitmap.
type SyncClass uint

const (
	SyncClassAnnounce SyncClass = iota
	SyncClassMessage
	SyncClassLeave
	SyncClassNoiseHandshake
	SyncClassNoiseEncrypted
	SyncClassFragment
	SyncClassRequestSync
	SyncClassFileTransfer
)

// RequestSync is the payload of a REQUEST_SYNC packet: a GCS filter
// over locally-known packet IDs plus a bitmap of the classes it covers.
type RequestSync struct {
	P          uint8
	M          uint32
	Filter     []byte
	TypeBitmap uint64
}

// HasClass reports whether the bitmap selects the given class.
func (r *RequestSync) HasClass(c SyncClass) bool {
	return r.TypeBitmap&(1<<uint(c)) != 0
}

// EncodeRequestSync serializes a RequestSync payload: p(1) m(4)
// filterLength(4) filter typeBitmap(8).
func EncodeRequestSync(r *RequestSync) []byte {
	out := make([]byte, 1+4+4+len(r.Filter)+8)
	off := 0
	out[off] = r.P
	off++
	binary.BigEndian.PutUint32(out[off:], r.M)
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(len(r.Filter)))
	off += 4
	copy(out[off:], r.Filter)
	off += len(r.Filter)
	binary.BigEndian.PutUint64(out[off:], r.TypeBitmap)
	return out
}

// DecodeRequestSync parses a RequestSync payload.
func DecodeRequestSync(data []byte) (*RequestSync, error) {
	if len(data) < 1+4+4 {
		return nil, ErrMalformed
	}
	r := &RequestSync{}
	off := 0
	r.P = data[off]
	off++
	r.M = binary.BigEndian.Uint32(data[off:])
	off += 4
	filterLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if len(data) < off+filterLen+8 {
		return nil, ErrMalformed
	}
	r.Filter = append([]byte(nil), data[off:off+filterLen]...)
	off += filterLen
	r.TypeBitmap = binary.BigEndian.Uint64(data[off:])
	return r, nil
}

// appendTLV appends one tag(1) length(2, BE) value field to out.
func appendTLV(out []byte, tag byte, value []byte) []byte {
	out = append(out, tag)
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(value)))
	out = append(out, length[:]...)
	out = append(out, value...)
	return out
}

// walkTLV iterates tag(1) length(2, BE) value fields in data, calling fn
// for each. A truncated trailing field is malformed.
func walkTLV(data []byte, fn func(tag byte, value []byte) error) error {
	off := 0
	for off < len(data) {
		if off+3 > len(data) {
			return ErrMalformed
		}
		tag := data[off]
		length := int(binary.BigEndian.Uint16(data[off+1:]))
		off += 3
		if off+length > len(data) {
			return ErrMalformed
		}
		if err := fn(tag, data[off:off+length]); err != nil {
			return err
		}
		off += length
	}
	return nil
}
