// Package auth authenticates API callers with HS256 JWTs.
//
// When auth.jwt_secret is configured, every /api route is wrapped in
// HTTPAuthMiddleware. The token's "sub" claim becomes the conversation
// owner and is available to handlers through OwnerFromContext. Without a
// secret the gateway trusts the user_id field of each request.
//
// Tokens for local use can be minted with the CLI:
//
//	querynox token <subject> --ttl 24h
package auth
