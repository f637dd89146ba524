// Package interp runs parsed scripts.
//
// A command list is applied to a set of contexts in rounds. In one round
// every context walks the list on its own: selects and follows are chained
// into a pipeline, a collect taps the pipeline built so far and writes it to
// the output, and whatever pipeline is left at the end becomes the
// context's continuation. The contexts produced by all continuations form
// the input of the next round. When a round produces nothing, the list has
// reached its fixed point and the input of that round is the result.
//
// Nested blocks run the same machine on their own command list. All work of
// a round, taps included, runs concurrently and is awaited before the next
// round starts. Taps of one round write in the order they were scheduled,
// so the lines of one collect appear in the order of the contexts that fed
// it.
//
// Fetch and query failures are logged and contained to their branch. A
// failed write to the output or the follow log is fatal: the run is
// cancelled and Run returns an *OutputWriteError.
package interp
