package uistream

import (
	"github.com/invopop/jsonschema"
)

// RequestSchema describes the chat request body.
func RequestSchema() *jsonschema.Schema {
	return reflector().Reflect(&ChatRequest{})
}

// ChunkSchema describes a single UI stream chunk.
func ChunkSchema() *jsonschema.Schema {
	return reflector().Reflect(&Chunk{})
}

func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
}
