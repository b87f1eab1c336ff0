// Package gateway serves the conversation pipeline over HTTP.
//
// # Endpoints
//
//	POST /api/chat                         blocking chat (JSON or multipart)
//	POST /api/chat/stream                  streaming chat over SSE
//	GET  /api/chat/ws                      streaming chat over WebSocket
//	POST /api/chat/switch-model            record a model switch
//	GET  /api/conversations                owner's conversations
//	GET  /api/conversations/{id}           conversation with ordered turns
//	GET  /api/conversations/{id}/watch     SSE feed of newly recorded turns
//	PUT  /api/conversations/{id}/bookmark  set bookmark membership
//	GET  /api/bookmarks                    owner's bookmarked conversations
//	GET  /api/models                       model catalog
//	GET  /health, /health/ready            liveness and database readiness
//
// Prometheus metrics are served at metrics.path when enabled, and a gRPC
// health service runs on server.grpc_addr when set.
//
// # Streaming
//
// Each SSE event is written as
//
//	event: <type>
//	data: <json>
//
// and the stream ends with "event: done" / "data: [DONE]". Failures detected
// before the first event are returned as JSON errors instead.
//
// # Errors
//
// Errors are JSON objects {"error": "..."}. Invalid requests map to 400,
// unknown conversations to 404, replayed Idempotency-Key headers to 409,
// naming and model failures to 502, and storage failures to 500.
package gateway
