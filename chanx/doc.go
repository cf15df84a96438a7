// Package chanx provides context-aware channel helpers used at the
// boundary between channels and reactive streams.
//
// Go channels have sharp edges: sends to closed channels panic and blocked
// sends leak goroutines when nobody reads. [Recv] unblocks on context
// cancellation, and [Outlet] turns send-after-close into an error so a
// stream can close its output channel while a producer is still blocked on
// it.
package chanx
