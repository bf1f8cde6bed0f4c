package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	// MaxQueue caps the outbound payload queue for this connection.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	ClientID        string       `json:"client_id"`
	Spawn           [2]int       `json:"spawn"`
	StreamParams    StreamParams `json:"stream_params"`
}

// StreamParams is the single source of the streaming constants for clients.
// A client must build its loaded-chunk mirror from these values only.
type StreamParams struct {
	TickRateHz     int   `json:"tick_rate_hz"`
	Seed           int64 `json:"seed"`
	ChunkSize      int   `json:"chunk_size"`
	FOVChunkRadius int   `json:"fov_chunk_radius"`
	EvictionBuffer int   `json:"eviction_buffer"`
	// WorldBoundaryR bounds |q| and |r| of any position the server accepts.
	WorldBoundaryR int `json:"world_boundary_r"`
}

// MOVE (client -> server): authoritative movement result for this tick.
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Pos             [2]int `json:"pos"`
}

// Tile encodings for CHUNK_DATA.
const (
	EncodingTile12ZstdB64 = "TILE12_ZSTD_B64"
)

// CHUNK_DATA (server -> client): one complete chunk.
type ChunkDataMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Chunk           [2]int `json:"chunk"`
	Encoding        string `json:"encoding"`
	Count           int    `json:"count"`
	Data            string `json:"data"`
	// Digest is hex sha256 over the tiles, for client-side verification.
	Digest string `json:"digest,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
