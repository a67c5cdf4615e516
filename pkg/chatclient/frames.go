package chatclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// streamChunk is the unit the proxy sends in each event frame.
type streamChunk struct {
	Chunk string `json:"chunk"`
	Done  bool   `json:"done,omitempty"`
}

var frameSep = []byte("\n\n")

// frameSplitter cuts an event stream into blank-line separated segments,
// keeping an incomplete trailing segment until more data arrives.
type frameSplitter struct {
	buf []byte
}

// Feed appends p and returns every complete segment.
func (f *frameSplitter) Feed(p []byte) [][]byte {
	f.buf = append(f.buf, p...)

	var segments [][]byte
	for {
		i := bytes.Index(f.buf, frameSep)
		if i < 0 {
			break
		}
		segments = append(segments, append([]byte(nil), f.buf[:i]...))
		f.buf = f.buf[i+len(frameSep):]
	}
	return segments
}

// Rest returns the unterminated tail once the stream ended.
func (f *frameSplitter) Rest() []byte {
	rest := f.buf
	f.buf = nil
	return rest
}

// parseFrame decodes one segment. ok is false for segments without data.
func parseFrame(segment []byte) (chunk streamChunk, ok bool, err error) {
	data := bytes.TrimSpace(segment)
	data = bytes.TrimPrefix(data, []byte("data:"))
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return streamChunk{}, false, nil
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return streamChunk{}, false, fmt.Errorf("%w: %v", ErrStreamDecode, err)
	}
	return chunk, true, nil
}
