// Package retry runs an operation a bounded number of times with a growing
// pause between attempts.
//
//	cfg := retry.FromConfig(appCfg.Retry, log)
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return fetchOnce(ctx, url)
//	}, cfg)
//
// Typed errors from partysync/pkg/errors decide retryability: network,
// rate-limit, server and parsing errors are retried, everything else returns
// immediately. When every attempt fails the result is an *ExhaustedError.
package retry
