// Package quorum coordinates the fan-out of one logical operation into
// independent sub-requests and decides success by counting acknowledgements.
//
// Each sub-request runs in its own goroutine and reports exactly one
// completion over a channel. A single collector, running on the caller's
// goroutine, owns the counter and the value map, so no completion is lost or
// counted twice however the calls interleave. The wait is a select over the
// completion channel, a deadline timer and the caller's context.
package quorum
