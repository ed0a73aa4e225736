// Package controlbot is the command intake and dispatch engine of the bot.
//
// Chat lines from untrusted players are classified into pending commands,
// deduplicated into a FIFO queue, gated by a per-player flood controller and
// executed one at a time against the single controlled agent. Presence and
// threat events arrive concurrently with queue processing; outgoing chat is
// paced by the Throttler.
//
// # Concurrency
//
// Notification paths (HandleChat, HandleGameEvent) only mutate queue and
// presence state. Execution happens exclusively in Dispatcher.Pump, which the
// Session calls from its tick goroutine. Because notifications are delivered
// on other goroutines, every shared structure here is mutex guarded and no
// lock is held while an action handler runs.
package controlbot
