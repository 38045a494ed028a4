// Package auth verifies the bearer credential presented on the Session
// Gateway's handshake and on REST requests, and propagates the resulting
// identity through request context.
//
// # Tokens
//
// Users authenticate with JWTs signed HS256 over a shared secret:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, ttl)
//	userID, err := verifier.Verify(token)
//
// # Context propagation
//
// HTTPAuthMiddleware resolves a bearer token down to a live User via
// store.Store and attaches an *AuthContext to the request context;
// handlers retrieve it with auth.FromContext. OptionalAuthMiddleware does
// the same but lets anonymous requests through.
package auth
