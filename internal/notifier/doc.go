// Package notifier delivers short operator messages (run started, run
// finished, trigger skipped) through a chat adapter.
//
// Delivery is asynchronous: a bounded queue feeds a small worker pool that
// shares a token-bucket rate limit and retries failed sends with backoff.
// Identical messages to the same chat inside DedupWindow are suppressed.
// Without an adapter every message is only logged.
package notifier
