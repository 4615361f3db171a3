package stream

import "strings"

const (
	// DataPrefix marks a data line of the completion stream.
	DataPrefix = "data: "
	// Sentinel is the payload that ends a stream normally.
	Sentinel = "[DONE]"
)

// Frame is the payload of a single `data: ` line.
type Frame struct {
	Payload string
}

// Framer accumulates decoded text and cuts it into frames on '\n'.
//
// Lines that do not start with DataPrefix (blank separators, comments,
// keep-alives, `event:` lines) are dropped. Once a Sentinel payload is seen the
// framer is done and yields nothing more, even for text it already buffered.
type Framer struct {
	pending strings.Builder
	done    bool
}

func NewFramer() *Framer {
	return &Framer{}
}

// Done reports whether the sentinel frame has been seen.
func (f *Framer) Done() bool {
	return f.done
}

// Push appends text and returns the complete frames it closed.
// A partial trailing line is kept until more text arrives or Flush is called.
func (f *Framer) Push(text string) []Frame {
	if f.done || text == "" {
		return nil
	}
	f.pending.WriteString(text)

	buffered := f.pending.String()
	last := strings.LastIndexByte(buffered, '\n')
	if last < 0 {
		return nil
	}

	f.pending.Reset()
	f.pending.WriteString(buffered[last+1:])

	var frames []Frame
	for _, line := range strings.Split(buffered[:last], "\n") {
		frame, ok := f.parseLine(line)
		if f.done {
			f.pending.Reset()
			break
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush treats whatever is still buffered as a final line. It is called once
// the byte stream has ended.
func (f *Framer) Flush() []Frame {
	if f.done {
		return nil
	}
	line := f.pending.String()
	f.pending.Reset()
	frame, ok := f.parseLine(line)
	if !ok || f.done {
		return nil
	}
	return []Frame{frame}
}

func (f *Framer) parseLine(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		return Frame{}, false
	}
	payload := line[len(DataPrefix):]
	if payload == Sentinel {
		f.done = true
		return Frame{}, false
	}
	return Frame{Payload: payload}, true
}
