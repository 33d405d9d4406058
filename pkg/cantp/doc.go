// Package cantp implements a CAN transport protocol engine in the style of
// ISO 15765-2. It segments messages larger than one CAN frame into a First
// Frame and Consecutive Frames, reassembles incoming segmented messages and
// exchanges Flow Control frames with the peer.
//
// The engine is tick driven and single threaded: OnTick, OnFrameReceived,
// StartTx and the query methods must be called from one goroutine. Frames
// arriving on other goroutines are handed over with Post and processed on
// the next tick. No call blocks.
package cantp
