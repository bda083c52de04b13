// Package auth manages the session token used by every catalog and order
// call.
//
// A TokenCache hands out a token that is never older than its validity
// window. Tokens are persisted through a Store so separate runs can reuse
// a session:
//
//	cache := auth.NewTokenCache(proto, auth.Options{
//		Window: 2 * time.Hour,
//		Store:  &auth.FileStore{Path: "token.yaml"},
//	})
//	tok, err := cache.Token(ctx)
//
// Logins are retried with exponential backoff. When every attempt fails
// the error satisfies errors.Is(err, auth.ErrAuthFailure).
package auth
