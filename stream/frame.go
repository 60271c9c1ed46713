package stream

import "strings"

// Kind identifies the type of a Frame.
type Kind int

const (
	// KindProgress reports that the agent is working, e.g. which tools it uses.
	KindProgress Kind = iota
	// KindChunk carries a slice of the final text.
	KindChunk
	// KindDone marks the regular end of a stream.
	KindDone
	// KindError reports a rejected or timed out turn.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindChunk:
		return "chunk"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Wire markers used by Encode.
const (
	ProgressMarker = "[PROGRESS]"
	DoneMarker     = "[DONE]"
	ErrorMarker    = "[ERROR]"
)

// Frame is one unit of the ordered output of a turn.
type Frame struct {
	Kind Kind
	Text string
}

// Progress returns a progress frame.
func Progress(label string) Frame { return Frame{Kind: KindProgress, Text: label} }

// Chunk returns a text chunk frame.
func Chunk(text string) Frame { return Frame{Kind: KindChunk, Text: text} }

// Done returns the end-of-stream frame.
func Done() Frame { return Frame{Kind: KindDone} }

// Error returns an error frame.
func Error(message string) Frame { return Frame{Kind: KindError, Text: message} }

// Encode renders the frame as a single SSE data payload. Chunks are sent raw.
func (f Frame) Encode() string {
	switch f.Kind {
	case KindProgress:
		return ProgressMarker + f.Text
	case KindDone:
		return DoneMarker
	case KindError:
		return ErrorMarker + f.Text
	default:
		return f.Text
	}
}

// Decode parses a payload produced by Encode. Anything without a marker is a chunk.
func Decode(payload string) Frame {
	switch {
	case payload == DoneMarker:
		return Done()
	case strings.HasPrefix(payload, ProgressMarker):
		return Progress(strings.TrimPrefix(payload, ProgressMarker))
	case strings.HasPrefix(payload, ErrorMarker):
		return Error(strings.TrimPrefix(payload, ErrorMarker))
	default:
		return Chunk(payload)
	}
}

// Transcript is the folded content of a finished stream.
type Transcript struct {
	Progress []string
	Text     string
	// Err holds the message of an error frame, if any.
	Err string
	// Done reports whether the stream ended with a Done frame.
	Done bool
}

// Collect reads frames until the channel is closed and folds them.
func Collect(frames <-chan Frame) Transcript {
	var (
		t    Transcript
		text strings.Builder
	)
	for f := range frames {
		switch f.Kind {
		case KindProgress:
			t.Progress = append(t.Progress, f.Text)
		case KindChunk:
			text.WriteString(f.Text)
		case KindError:
			t.Err = f.Text
		case KindDone:
			t.Done = true
		}
	}
	t.Text = text.String()
	return t
}
