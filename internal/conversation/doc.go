// Package conversation runs the streaming conversation pipeline.
//
// # Overview
//
// Each request moves through a fixed set of stages:
//
//	init -> (create_conversation) -> enrich -> compose -> generate -> persist -> done
//
// Any stage except enrich may end the request in the error state. The
// conversation is created only when no conversation ID is supplied.
//
// # Components
//
//   - History: flattens stored turns into user/assistant message pairs,
//     ordered by creation time with the store's insertion index as tiebreak
//   - Enricher: runs web search and file extraction concurrently and joins
//     them search-first; provider failures become Warnings
//   - Compose: appends prompt+context as the final user message
//   - Relay: drives the Model; in streaming mode a producer goroutine pushes
//     chunks into a bounded channel and the caller's goroutine forwards them
//   - Recorder: commits exactly one turn per invocation on a detached context
//   - Service: the orchestrator tying the above together
//
// # Events
//
// Streaming callers receive, in order: status events, one metadata event,
// content events, then exactly one complete or error event. Validation and
// not-found failures are returned before any event is sent so transports can
// answer with a plain error status instead.
//
// # Persistence Rules
//
//   - A turn is written only after generation completes
//   - A failed generation writes nothing; earlier turns are untouched
//   - If the caller disconnects but the provider finishes, the turn is
//     still recorded
//   - A model switch is a new turn whose response is a summary of the
//     conversation so far
//
// # Turn Feed
//
// TurnFeed fans recorded turns out to watchers of the same conversation so
// other open clients can refresh without polling.
package conversation
