// Package stream runs agent turns in the background and delivers their output
// as an ordered sequence of frames.
//
// A successful turn produces:
//
//	Progress(thinking start)
//	Progress("Step N: using ...")   zero or more, one per tool step
//	Progress(thinking end)
//	Chunk ... Chunk                 the final text, paced by a ticker
//	Done
//
// A rejected turn (busy session, blank input) produces Error followed by Done.
// A turn that fails in flight produces a diagnostic Chunk followed by Done.
// When the stream timeout expires the turn is canceled, the session still
// returns to Idle and the stream ends with Error("timeout").
//
// Frame.Encode renders frames in the wire format used by the HTTP server.
package stream
