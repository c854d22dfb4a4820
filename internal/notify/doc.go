// Package notify implements the deadline notification engine.
//
// A Scanner periodically reads every incomplete todo, keeps those whose
// deadline falls inside the lookahead window (IsDue), and hands each match to
// a Dispatcher, which resolves the owner's push token, claims the
// (task, window) dedup key and sends the push. A CreationNotifier reacts to
// task-creation events with an email.
//
// Delivery is at-least-once: a dedup claim is taken before each send and
// released when the send fails, so concurrent scans produce a single send
// per window and failed sends are retried on the next scan.
package notify
