// Package ratelimit throttles outbound API requests on the client side.
//
// TokenBucket allows bursts up to its capacity and then one request per
// refill interval. SlidingWindow allows at most N requests in any window.
// Both block in Wait until a request is allowed or the context ends:
//
//	limiter := ratelimit.FromConfig(cfg.RateLimit) // 60/min, burst 10
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled while throttled
//	}
//
// Client-side throttling complements, and does not replace, the retry
// executor's handling of 429 responses.
package ratelimit
