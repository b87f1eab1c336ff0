// Package dedupe guards chat endpoints against replayed requests.
//
// Clients may send an Idempotency-Key header. The gateway claims
// Key(owner, header) before running the pipeline; a second claim of the
// same key within the ttl is rejected with 409 Conflict. Keys rejected
// before any pipeline work (validation failures) are released so a
// corrected retry can reuse them.
package dedupe
