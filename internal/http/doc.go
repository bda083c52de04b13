// Package http provides the HTTP client used to talk to the catalog, order
// and download endpoints.
//
// This package handles:
//   - Connection pooling for parallel download workers
//   - JSON request/response round trips with a hard per-call timeout
//   - Streaming GETs for large payloads, bounded by a separate timeout
//   - Retry of transport failures and 5xx responses via retry.Policy
//   - Content-Disposition filename extraction
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	var out envelope
//	err := client.JSON(ctx, "POST", url, payload, &out,
//	    http.WithHeader("X-Auth-Token", token))
//
//	resp, err := client.Stream(ctx, signedURL)
//	defer resp.Body.Close()
package http
