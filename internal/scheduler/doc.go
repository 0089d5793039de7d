// Package scheduler keeps an in-memory timer for every pending reminder.
//
// Storage is the durable queue. The engine's registry is a cache rebuilt by
// Recover at startup, so timers dropped by Stop are armed again on the next run.
// Delivery goroutines run under a supervisor and are awaited on Stop.
package scheduler
