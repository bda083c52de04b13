// Package catalog searches the USGS inventory for scenes and resolves
// their download URLs.
//
// Two wire protocols are supported behind the Protocol interface: the
// legacy v1.4.1 "jsonRequest" API and the M2M JSON API. Both are driven by
// the same Client:
//
//	proto := catalog.NewM2M(catalog.ProtocolOptions{Username: u, Password: p})
//	tokens := auth.NewTokenCache(proto, auth.Options{Window: proto.TokenWindow()})
//	client := catalog.NewClient(proto, tokens, catalog.Options{})
//
//	q, err := catalog.NewQuery("landsat_ot_c2_l1",
//		catalog.WithBound(orb.Bound{Min: orb.Point{-76, 45}, Max: orb.Point{-75, 46}}),
//		catalog.WithDates(start, end),
//		catalog.WithCloudCeiling(30),
//	)
//	products, err := client.Search(ctx, q, catalog.WithEnrich(), catalog.WithTiers("T1"))
//
// Requests are paced by a token-bucket limiter. A RATE_LIMIT answer from
// the service makes the client back off and retry; when retries run out
// Search returns an empty slice and an error matching ErrRateLimited.
package catalog
