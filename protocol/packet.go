/*
Wire format (big-endian throughout):

	version (1)  type (1)  ttl (1)  timestamp (8, ms since epoch)  flags (1)
	payloadLength (2 for v1, 4 for v2)
	senderID (8)
	recipientID (8, if flags.hasRecipient)
	[originalSize (2 v1 / 4 v2), if flags.isCompressed] + payload
	signature (64, if flags.hasSignature)

Padding, when requested, right-pads the encoded frame with zero bytes to
the next rung of blockSizeLadder. Padding carries no semantic meaning and
must never be mistaken for part of the packet — see Decode.
*/
package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Supported wire versions. v2 differs from v1 only in the width of the
// payloadLength (and matching originalSize) field: 2 bytes vs 4.
const (
	Version1 = 1
	Version2 = 2
)

// MessageType identifies the high-level kind of a packet.
type MessageType uint8

const (
	TypeAnnounce       MessageType = 0x01
	TypeMessage        MessageType = 0x02
	TypeLeave          MessageType = 0x03
	TypeNoiseHandshake MessageType = 0x10
	TypeNoiseEncrypted MessageType = 0x11
	TypeFragment       MessageType = 0x20
	TypeRequestSync    MessageType = 0x21
	TypeFileTransfer   MessageType = 0x22
)

// flag bits within the fixed header.
const (
	flagHasRecipient = 1 << 0
	flagHasSignature = 1 << 1
	flagIsCompressed = 1 << 2
)

// PeerID is the 8-byte opaque short identifier derived from the first 8
// bytes of a peer's fingerprint (SHA-256 of its static public key).
type PeerID [8]byte

// BroadcastPeerID is the reserved recipient value meaning "everyone".
var BroadcastPeerID = PeerID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (id PeerID) String() string       { return hex.EncodeToString(id[:]) }
func (id PeerID) IsBroadcast() bool    { return id == BroadcastPeerID }
func (id PeerID) Less(other PeerID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Fingerprint returns the lowercase 64-hex SHA-256 digest of a static
// public key.
func Fingerprint(staticPublicKey []byte) string {
	sum := sha256.Sum256(staticPublicKey)
	return hex.EncodeToString(sum[:])
}

// PeerIDFromPublicKey derives the 8-byte PeerID from a static public key:
// the first 8 bytes of SHA-256(publicKey).
func PeerIDFromPublicKey(staticPublicKey []byte) (id PeerID) {
	sum := sha256.Sum256(staticPublicKey)
	copy(id[:], sum[:8])
	return id
}

// compressionThreshold is the minimum raw payload size at which Encode
// attempts zlib compression.
const compressionThreshold = 100

// hardOriginalSizeCap bounds the declared decompressed size of any packet,
// framed generously under 1 MiB.
const hardOriginalSizeCap = 1 << 20

// maxCompressionRatio defense against decompression bombs: a compressed
// blob may not claim to expand more than this factor.
const maxCompressionRatio = 50000

// blockSizeLadder is the set of standard padded frame sizes.
var blockSizeLadder = []int{256, 512, 1024, 2048}

// Packet is a fully decoded mesh packet.
type Packet struct {
	Version     uint8
	Type        MessageType
	TTL         uint8
	Timestamp   uint64 // milliseconds since Unix epoch
	SenderID    PeerID
	RecipientID *PeerID // nil if not addressed (flags.hasRecipient unset)
	Payload     []byte
	Signature   []byte // nil, or exactly 64 bytes
}

// headerFixedSize is version+type+ttl+timestamp+flags, before the
// version-dependent payloadLength field.
const headerFixedSize = 1 + 1 + 1 + 8 + 1

func lengthFieldWidth(version uint8) int {
	if version == Version1 {
		return 2
	}
	return 4
}

func putLength(buf []byte, version uint8, n int) {
	if version == Version1 {
		binary.BigEndian.PutUint16(buf, uint16(n))
	} else {
		binary.BigEndian.PutUint32(buf, uint32(n))
	}
}

func getLength(buf []byte, version uint8) int {
	if version == Version1 {
		return int(binary.BigEndian.Uint16(buf))
	}
	return int(binary.BigEndian.Uint32(buf))
}

// Encode serializes a packet. If withPadding is true the frame is
// right-padded with zero bytes to the next element of blockSizeLadder.
func Encode(p *Packet, withPadding bool) ([]byte, error) {
	if p.Version != Version1 && p.Version != Version2 {
		return nil, ErrUnsupportedVersion
	}

	lenWidth := lengthFieldWidth(p.Version)

	payloadSection, compressed, err := encodePayloadSection(p.Version, p.Payload)
	if err != nil {
		return nil, err
	}

	maxLen := (1 << (8 * lenWidth)) - 1
	if len(payloadSection) > maxLen {
		return nil, ErrEncodeTooLarge
	}

	size := headerFixedSize + lenWidth + 8 + len(payloadSection)
	if p.RecipientID != nil {
		size += 8
	}
	if p.Signature != nil {
		size += len(p.Signature)
	}

	buf := make([]byte, size)
	off := 0
	buf[off] = p.Version
	off++
	buf[off] = byte(p.Type)
	off++
	buf[off] = p.TTL
	off++
	binary.BigEndian.PutUint64(buf[off:], p.Timestamp)
	off += 8

	var flags byte
	if p.RecipientID != nil {
		flags |= flagHasRecipient
	}
	if p.Signature != nil {
		flags |= flagHasSignature
	}
	if compressed {
		flags |= flagIsCompressed
	}
	buf[off] = flags
	off++

	putLength(buf[off:], p.Version, len(payloadSection))
	off += lenWidth

	copy(buf[off:], p.SenderID[:])
	off += 8

	if p.RecipientID != nil {
		copy(buf[off:], p.RecipientID[:])
		off += 8
	}

	copy(buf[off:], payloadSection)
	off += len(payloadSection)

	if p.Signature != nil {
		copy(buf[off:], p.Signature)
		off += len(p.Signature)
	}

	if !withPadding {
		return buf, nil
	}
	return pad(buf), nil
}

// encodePayloadSection returns the bytes that go on the wire in place of
// the raw payload: either the plain payload, or (originalSize prefix +
// compressed bytes) if compression shrinks it.
func encodePayloadSection(version uint8, payload []byte) (section []byte, compressed bool, err error) {
	if len(payload) < compressionThreshold {
		return payload, false, nil
	}

	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(payload); err != nil {
		return payload, false, nil // compression unavailable: fall back to plain
	}
	if err := zw.Close(); err != nil {
		return payload, false, nil
	}

	lenWidth := lengthFieldWidth(version)
	if out.Len()+lenWidth >= len(payload) {
		// Compression did not help; use the plain form.
		return payload, false, nil
	}

	section = make([]byte, lenWidth+out.Len())
	putLength(section, version, len(payload))
	copy(section[lenWidth:], out.Bytes())
	return section, true, nil
}

// pad right-pads raw with zero bytes to the next element of
// blockSizeLadder. Frames already larger than the largest rung are left
// unpadded.
func pad(raw []byte) []byte {
	for _, size := range blockSizeLadder {
		if len(raw) <= size {
			padded := make([]byte, size)
			copy(padded, raw)
			return padded
		}
	}
	return raw
}

// Decode parses a wire frame into a Packet. Per the Design Notes, it first
// attempts to parse the buffer unmodified (padding never needs to be
// stripped for this format, because every variable-length field is
// explicit, but the retry path exists to follow the same always-attempt-
// first discipline other mesh implementations rely on for formats where a
// trailing-bytes count is implicit).
func Decode(raw []byte) (*Packet, error) {
	p, err := parseOnce(raw)
	if err == nil {
		return p, nil
	}
	if err != errUnderflow {
		return nil, err
	}

	trimmed := bytes.TrimRight(raw, "\x00")
	if len(trimmed) == len(raw) {
		return nil, ErrMalformed
	}
	p, err = parseOnce(trimmed)
	if err == errUnderflow {
		return nil, ErrMalformed
	}
	return p, err
}

func parseOnce(raw []byte) (*Packet, error) {
	if len(raw) < headerFixedSize+lengthFieldWidth(Version1)+8 {
		return nil, errUnderflow
	}

	version := raw[0]
	if version != Version1 && version != Version2 {
		return nil, ErrUnsupportedVersion
	}

	p := &Packet{
		Version: version,
		Type:    MessageType(raw[1]),
		TTL:     raw[2],
	}
	p.Timestamp = binary.BigEndian.Uint64(raw[3:11])
	flags := raw[11]

	lenWidth := lengthFieldWidth(version)
	off := headerFixedSize
	if len(raw) < off+lenWidth {
		return nil, errUnderflow
	}
	payloadLength := getLength(raw[off:], version)
	off += lenWidth

	if len(raw) < off+8 {
		return nil, errUnderflow
	}
	copy(p.SenderID[:], raw[off:off+8])
	off += 8

	if flags&flagHasRecipient != 0 {
		if len(raw) < off+8 {
			return nil, errUnderflow
		}
		var rid PeerID
		copy(rid[:], raw[off:off+8])
		p.RecipientID = &rid
		off += 8
	}

	remaining := raw[off:]
	if payloadLength > len(remaining) {
		return nil, errUnderflow
	}
	section := remaining[:payloadLength]
	off += payloadLength

	if flags&flagIsCompressed != 0 {
		payload, err := decodeCompressedSection(version, section)
		if err != nil {
			return nil, err
		}
		p.Payload = payload
	} else {
		p.Payload = append([]byte(nil), section...)
	}

	if flags&flagHasSignature != 0 {
		if len(raw) < off+64 {
			return nil, errUnderflow
		}
		p.Signature = append([]byte(nil), raw[off:off+64]...)
		off += 64
	}

	return p, nil
}

func decodeCompressedSection(version uint8, section []byte) ([]byte, error) {
	sizeWidth := lengthFieldWidth(version)
	if len(section) < sizeWidth {
		return nil, ErrMalformed
	}

	compressedData := section[sizeWidth:]
	if len(compressedData) < sizeWidth {
		// Defense guard (a): the compressed payload must be at least as
		// large as the length-field width itself.
		return nil, ErrSizeExceeded
	}

	originalSize := getLength(section, version)
	if originalSize > hardOriginalSizeCap {
		return nil, ErrSizeExceeded
	}
	if originalSize/len(compressedData) > maxCompressionRatio {
		return nil, ErrSizeExceeded
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, ErrCompressionFailure
	}
	defer zr.Close()

	limited := io.LimitReader(zr, int64(originalSize)+1)
	decoded, err := io.ReadAll(limited)
	if err != nil {
		return nil, ErrCompressionFailure
	}
	if len(decoded) != originalSize {
		return nil, ErrSizeExceeded
	}

	return decoded, nil
}

// IDOf returns a stable digest of a packet usable as a SeenSet dedup key.
// It is stable under TTL mutation: it hashes sender, timestamp,
// type, and a hash of the payload — never TTL.
func IDOf(p *Packet) [32]byte {
	payloadHash := sha256.Sum256(p.Payload)

	h := sha256.New()
	h.Write(p.SenderID[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], p.Timestamp)
	h.Write(ts[:])
	h.Write([]byte{byte(p.Type)})
	h.Write(payloadHash[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SigningImage returns the canonical bytes a signature is computed over:
// the unpadded encoding of p with TTL forced to 0 and the signature field
// absent. This is stable across relay hops, which only mutate TTL.
func SigningImage(p *Packet) ([]byte, error) {
	clone := *p
	clone.TTL = 0
	clone.Signature = nil
	return Encode(&clone, false)
}
