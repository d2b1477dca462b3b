package docs

import _ "embed"

// AsyncAPISpec describes the /v1/stream WebSocket protocol.
//
//go:embed asyncapi.yaml
var AsyncAPISpec []byte
