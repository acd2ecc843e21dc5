// Package notifier delivers operator alerts.
//
// Alerts are short, high-signal messages about announcements that need a
// human: a send that failed, a send that only partially went out, or a
// scheduled item that missed its time. The service listens on the event bus,
// formats the matching events, and pushes them through a bounded queue to a
// transport.Sender (the Telegram adapter in production).
//
// # Delivery
//
// A single worker drains the queue behind a token-bucket limiter and retries
// failed sends with exponential backoff and jitter. When alerts are disabled
// the service starts nothing and Notify returns ErrDisabled.
package notifier
