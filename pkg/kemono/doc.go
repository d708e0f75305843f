// Package kemono is the HTTP client for kemono-compatible archives (kemono,
// coomer).
//
// Every outbound request goes through Client.Fetch, which waits on the rate
// limiter, retries transient failures with exponential backoff and, when
// asked, repeats the whole budget once against the source's fallback host.
// A request that still fails is appended to the error log:
//
//	2024-03-01T12:30:00 - https://kemono.su/data/ab/cd.png -- gave up after 5 attempts: ...
//
// Listings are walked lazily with PageEnumerator (offset pagination, 50 per
// page) and ChannelEnumerator (skip pagination, 10 per page):
//
//	pages := kemono.NewPageEnumerator(client, creator)
//	for {
//		page, ok, err := pages.Next(ctx)
//		if !ok {
//			break
//		}
//		...
//	}
package kemono
