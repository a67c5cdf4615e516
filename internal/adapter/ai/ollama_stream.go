package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/ollama-chat/internal/port"
)

// DefaultMaxStreamBuffer caps how much undecodable stream data is carried between lines.
const DefaultMaxStreamBuffer = 1 << 20

// lineDecoder turns the NDJSON body of /api/chat into text fragments.
// Network reads are not aligned to lines, so the partial tail of every read
// is kept until the next one. A complete line that does not parse is carried
// and joined with the following line instead of being dropped.
type lineDecoder struct {
	buf   []byte
	carry []byte
	max   int
}

func newLineDecoder(max int) *lineDecoder {
	if max <= 0 {
		max = DefaultMaxStreamBuffer
	}
	return &lineDecoder{max: max}
}

// Feed appends p and decodes every complete line. done is true once the
// backend sent its terminal object; anything after it is discarded.
func (d *lineDecoder) Feed(p []byte) (fragments []string, done bool, err error) {
	d.buf = append(d.buf, p...)

	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(d.buf[:i])
		d.buf = d.buf[i+1:]
		if len(line) == 0 {
			continue
		}

		chunk, ok, err := d.parse(line)
		if err != nil {
			return fragments, false, err
		}
		if !ok {
			continue
		}
		if chunk.Error != "" {
			return fragments, false, upstreamLineError(chunk)
		}
		if chunk.content() != "" {
			fragments = append(fragments, chunk.content())
		}
		if chunk.Done {
			d.buf, d.carry = nil, nil
			return fragments, true, nil
		}
	}
	return fragments, false, nil
}

// Flush decodes whatever is left once the body reached EOF without a
// terminal object. A tail carrying an error object is reported as ErrUpstream.
func (d *lineDecoder) Flush() (string, error) {
	carry, tail := d.carry, bytes.TrimSpace(d.buf)
	d.buf, d.carry = nil, nil

	candidates := [][]byte{tail}
	if len(carry) > 0 {
		joined := append(append([]byte{}, carry...), tail...)
		candidates = [][]byte{joined, tail}
	}
	for _, c := range candidates {
		if len(c) == 0 {
			continue
		}
		if chunk, err := decodeChunk(c); err == nil {
			if chunk.Error != "" {
				return "", upstreamLineError(chunk)
			}
			return chunk.content(), nil
		}
	}
	if len(carry)+len(tail) > 0 {
		slog.Debug("ollama stream ended with undecodable data", "bytes", len(carry)+len(tail))
	}
	return "", nil
}

// parse decodes a complete line, joining it with carried data when needed.
// Only carried data counts against the cap; a line still being received
// does not.
func (d *lineDecoder) parse(line []byte) (ollamaChatResponse, bool, error) {
	if len(d.carry) == 0 {
		chunk, err := decodeChunk(line)
		if err != nil {
			return chunk, false, d.keep(append([]byte{}, line...))
		}
		return chunk, true, nil
	}

	joined := append(append([]byte{}, d.carry...), line...)
	if chunk, err := decodeChunk(joined); err == nil {
		d.carry = nil
		return chunk, true, nil
	}
	// A line that decodes on its own means the carry can never complete.
	if chunk, err := decodeChunk(line); err == nil {
		slog.Warn("dropping undecodable ollama stream fragment", "bytes", len(d.carry))
		d.carry = nil
		return chunk, true, nil
	}
	return ollamaChatResponse{}, false, d.keep(joined)
}

func (d *lineDecoder) keep(carry []byte) error {
	if len(carry) > d.max {
		d.carry = nil
		return fmt.Errorf("%w: undecodable stream data exceeds %d bytes", port.ErrProtocol, d.max)
	}
	d.carry = carry
	return nil
}

func upstreamLineError(chunk ollamaChatResponse) error {
	return fmt.Errorf("%w: %s", port.ErrUpstream, chunk.Error)
}

func decodeChunk(b []byte) (ollamaChatResponse, error) {
	var chunk ollamaChatResponse
	err := json.Unmarshal(b, &chunk)
	return chunk, err
}
