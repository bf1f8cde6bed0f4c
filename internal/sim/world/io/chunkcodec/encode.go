// Package chunkcodec converts chunks to and from CHUNK_DATA payloads.
//
// Tiles are packed in chunk order as 12 little-endian bytes each
// (q int32, r int32, z int16, kind uint8, variant uint8), zstd compressed
// and base64 encoded.
package chunkcodec

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/terrain"
)

const tileBytes = 12

// MaxDecodedBytes caps the decompressed size of one payload, so a small
// frame cannot expand into an unbounded allocation.
const MaxDecodedBytes = 64 << 20

// EncodeAll/DecodeAll are safe for concurrent use, so one of each is shared.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(err)
	}
	decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedBytes))
	if err != nil {
		panic(err)
	}
}

func EncodeCells(cells []terrain.Cell) string {
	buf := make([]byte, len(cells)*tileBytes)
	for i, c := range cells {
		off := i * tileBytes
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(c.Loc.Q)))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(int32(c.Loc.R)))
		binary.LittleEndian.PutUint16(buf[off+8:], uint16(c.Tile.Z))
		buf[off+10] = byte(c.Tile.Kind)
		buf[off+11] = c.Tile.Variant
	}
	return base64.StdEncoding.EncodeToString(encoder.EncodeAll(buf, nil))
}

// DecodeCells reverses EncodeCells and requires exactly want tiles.
func DecodeCells(data string, want int) ([]terrain.Cell, error) {
	size := want * tileBytes
	if want < 0 || size > MaxDecodedBytes {
		return nil, fmt.Errorf("chunk data: %d tiles exceeds decode limit", want)
	}
	comp, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("chunk data base64: %w", err)
	}
	var h zstd.Header
	if err := h.Decode(comp); err == nil && h.HasFCS && h.FrameContentSize != uint64(size) {
		return nil, fmt.Errorf("chunk data: frame holds %d bytes, want %d tiles", h.FrameContentSize, want)
	}
	raw, err := decoder.DecodeAll(comp, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("chunk data zstd: %w", err)
	}
	if len(raw) != want*tileBytes {
		return nil, fmt.Errorf("chunk data: %d bytes, want %d tiles", len(raw), want)
	}
	cells := make([]terrain.Cell, want)
	for i := range cells {
		off := i * tileBytes
		cells[i] = terrain.Cell{
			Loc: terrain.Loc{
				Q: int(int32(binary.LittleEndian.Uint32(raw[off:]))),
				R: int(int32(binary.LittleEndian.Uint32(raw[off+4:]))),
			},
			Tile: terrain.Tile{
				Z:       int16(binary.LittleEndian.Uint16(raw[off+8:])),
				Kind:    terrain.TileKind(raw[off+10]),
				Variant: raw[off+11],
			},
		}
	}
	return cells, nil
}

func DigestHex(ch *terrain.Chunk) string {
	d := ch.Digest()
	return hex.EncodeToString(d[:])
}

// ChunkData builds the wire message for one chunk.
func ChunkData(ch *terrain.Chunk, tick uint64) protocol.ChunkDataMsg {
	return protocol.ChunkDataMsg{
		Type:            protocol.TypeChunkData,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Chunk:           [2]int{int(ch.ID.Q), int(ch.ID.R)},
		Encoding:        protocol.EncodingTile12ZstdB64,
		Count:           len(ch.Cells),
		Data:            EncodeCells(ch.Cells),
		Digest:          DigestHex(ch),
	}
}

// DecodeChunkData validates a CHUNK_DATA message against grid and rebuilds the
// chunk. Every tile must belong to the announced chunk.
func DecodeChunkData(msg protocol.ChunkDataMsg, grid terrain.Grid) (*terrain.Chunk, error) {
	if msg.Encoding != protocol.EncodingTile12ZstdB64 {
		return nil, fmt.Errorf("chunk data: unsupported encoding %q", msg.Encoding)
	}
	if msg.Count != grid.TilesPerChunk() {
		return nil, fmt.Errorf("chunk data: count %d, want %d", msg.Count, grid.TilesPerChunk())
	}
	for _, v := range msg.Chunk {
		if v < -32768 || v > 32767 {
			return nil, fmt.Errorf("chunk data: chunk id %v out of range", msg.Chunk)
		}
	}
	id := terrain.ChunkID{Q: int16(msg.Chunk[0]), R: int16(msg.Chunk[1])}
	cells, err := DecodeCells(msg.Data, msg.Count)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		if grid.LocToChunk(c.Loc) != id {
			return nil, fmt.Errorf("chunk data: tile %+v outside chunk %v", c.Loc, id)
		}
	}
	ch := terrain.NewChunk(id, cells, time.Time{})
	if msg.Digest != "" && DigestHex(ch) != msg.Digest {
		return nil, fmt.Errorf("chunk data: digest mismatch for chunk %v", id)
	}
	return ch, nil
}
