// Package ratelimit throttles outbound requests to the aggregator APIs.
//
// TokenBucket refills continuously, so a bucket built with PerMinute(120)
// allows short bursts of up to 120 requests and then settles at two per
// second. Wait honours context cancellation.
package ratelimit
