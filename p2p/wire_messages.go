package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MessageKind tags the wire protocol's message union.
type MessageKind uint8

const (
	KindVersion MessageKind = iota
	KindVerack
	KindGetPeers
	KindPeers
	KindPing
	KindPong
	KindBlock
	KindTransaction
	KindInventoryAnnouncement
	KindInventoryRequest
	KindLastBeacon
	KindSuperBlock
	KindSuperBlockVote
)

// ProtocolMagic gates which peers a session will accept a handshake from;
// a mismatched magic means the peer is on a different network.
const ProtocolMagic uint32 = 0x4f524143 // "ORAC"

// MaxFrameSize bounds a single message's wire-encoded size to guard
// against a misbehaving or malicious peer exhausting memory with a bogus
// length prefix.
const MaxFrameSize = 32 * 1024 * 1024

// Envelope is the length-framed wire message: a 4-byte magic, a 1-byte
// kind tag, a 4-byte big-endian payload length, then the JSON-encoded
// payload.
type Envelope struct {
	Kind    MessageKind
	Payload []byte
}

// WriteEnvelope frames and writes env to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	if len(env.Payload) > MaxFrameSize {
		return fmt.Errorf("p2p: payload exceeds max frame size")
	}
	frame := make([]byte, 9+len(env.Payload))
	binary.BigEndian.PutUint32(frame[0:4], ProtocolMagic)
	frame[4] = byte(env.Kind)
	binary.BigEndian.PutUint32(frame[5:9], uint32(len(env.Payload)))
	copy(frame[9:], env.Payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("p2p: write frame: %w", err)
	}
	return nil
}

// ReadEnvelope reads and validates one framed message from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return Envelope{}, fmt.Errorf("p2p: read header: %w", err)
	}
	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != ProtocolMagic {
		return Envelope{}, fmt.Errorf("p2p: bad magic %x", magic)
	}
	kind := MessageKind(header[4])
	length := binary.BigEndian.Uint32(header[5:9])
	if length > MaxFrameSize {
		return Envelope{}, fmt.Errorf("p2p: frame length %d exceeds max", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, fmt.Errorf("p2p: read payload: %w", err)
	}
	return Envelope{Kind: kind, Payload: payload}, nil
}

// EncodeMessage wraps v's JSON encoding as an Envelope of the given kind.
func EncodeMessage(kind MessageKind, v interface{}) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("p2p: encode message: %w", err)
	}
	return Envelope{Kind: kind, Payload: b}, nil
}

// DecodeMessage unmarshals env's payload into v.
func DecodeMessage(env Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("p2p: decode message: %w", err)
	}
	return nil
}

// VersionMessage is the first message exchanged in a handshake.
type VersionMessage struct {
	ProtocolVersion uint32    `json:"protocol_version"`
	Nonce           uuid.UUID `json:"nonce"`
	BestEpoch       uint32    `json:"best_epoch"`
	ListenAddr      string    `json:"listen_addr"`
}

// VerackMessage acknowledges a Version message.
type VerackMessage struct{}

// PingMessage/PongMessage carry a nonce the peer must echo back.
type PingMessage struct{ Nonce uint64 `json:"nonce"` }
type PongMessage struct{ Nonce uint64 `json:"nonce"` }

// GetPeersMessage requests known peer addresses.
type GetPeersMessage struct{}

// PeersMessage carries up to a bounded number of peer addresses.
type PeersMessage struct {
	Addresses []string `json:"addresses"`
}

// LastBeaconMessage announces the sender's best block/superblock state,
// used to detect and drive chain synchronization.
type LastBeaconMessage struct {
	BestBlockEpoch     uint32 `json:"best_block_epoch"`
	BestBlockHash      string `json:"best_block_hash"`
	LastSuperblockIndex uint32 `json:"last_superblock_index"`
	LastSuperblockHash string `json:"last_superblock_hash"`
}

// InventoryAnnouncementMessage advertises up to 500 item hashes the sender
// has available, the spec's cap on a single announcement batch.
type InventoryAnnouncementMessage struct {
	ItemKind string   `json:"item_kind"` // "block" or one of the transaction kinds
	Hashes   []string `json:"hashes"`
}

// MaxInventoryHashes bounds a single InventoryAnnouncementMessage.
const MaxInventoryHashes = 500

// InventoryRequestMessage asks a peer for the full payload of previously
// announced items.
type InventoryRequestMessage struct {
	ItemKind string   `json:"item_kind"`
	Hashes   []string `json:"hashes"`
}
