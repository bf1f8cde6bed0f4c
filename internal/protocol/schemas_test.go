package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tilestream.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip turns a Go message into the generic form the validator expects.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile(t, "hello.schema.json"), roundTrip(t, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "bot1",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 64},
	}))

	validate(compile(t, "welcome.schema.json"), roundTrip(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "s1",
		ClientID:        "c1",
		Spawn:           [2]int{0, 0},
		StreamParams: protocol.StreamParams{
			TickRateHz: 20, Seed: 1337, ChunkSize: 16, FOVChunkRadius: 2, EvictionBuffer: 1, WorldBoundaryR: 4000,
		},
	}))

	validate(compile(t, "move.schema.json"), roundTrip(t, protocol.MoveMsg{
		Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Seq: 7, Pos: [2]int{-17, 40},
	}))

	validate(compile(t, "chunk_data.schema.json"), roundTrip(t, protocol.ChunkDataMsg{
		Type:            protocol.TypeChunkData,
		ProtocolVersion: protocol.Version,
		Tick:            12,
		Chunk:           [2]int{-2, 3},
		Encoding:        protocol.EncodingTile12ZstdB64,
		Count:           256,
		Data:            "KLUv/QQA",
		Digest:          "0000000000000000000000000000000000000000000000000000000000000000",
	}))

	validate(compile(t, "error.schema.json"), roundTrip(t, protocol.NewError(protocol.ErrOutOfBounds, "outside")))
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	welcome := compile(t, "welcome.schema.json")
	var bad any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"s1",
	  "client_id":"c1",
	  "spawn":[0,0],
	  "stream_params":{"tick_rate_hz":20,"seed":1,"chunk_size":16,"fov_chunk_radius":2,"eviction_buffer":0,"world_boundary_r":4000}
	}`), &bad)
	if err := welcome.Validate(bad); err == nil {
		t.Fatalf("eviction_buffer 0 should be rejected")
	}

	move := compile(t, "move.schema.json")
	_ = json.Unmarshal([]byte(`{"type":"MOVE","protocol_version":"1.0","seq":1,"pos":[1]}`), &bad)
	if err := move.Validate(bad); err == nil {
		t.Fatalf("one-element pos should be rejected")
	}
}
