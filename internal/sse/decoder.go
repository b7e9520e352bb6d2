// Package sse decodes chat-completion Server-Sent-Events streams.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bowerhall/skim/internal/logger"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	maxLineSize  = 1024 * 1024
)

// Chunk is one decoded frame. Role and Content are empty when the frame
// did not carry them.
type Chunk struct {
	Role         string
	Content      string
	FinishReason string
	Terminal     bool
}

type frame struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Decoder yields chunks from a line stream. It is single-pass: once Next
// returns false the decoder is spent.
type Decoder struct {
	reader    *bufio.Reader
	chunk     Chunk
	err       error
	pending   error
	done      bool
	malformed int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineSize are consumed and reported as oversized instead of returned.
func (d *Decoder) readLine() (line string, oversized bool, err error) {
	var buf, frag []byte
	for {
		frag, err = d.reader.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(frag) > maxLineSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}

		return strings.TrimRight(string(buf), "\r\n"), oversized, err
	}
}

// Next advances to the next chunk. It returns false when the stream hit
// [DONE], closed, or failed; Err distinguishes the last case.
func (d *Decoder) Next() bool {
	if d.done {
		return false
	}

	for d.pending == nil {
		line, oversized, err := d.readLine()
		d.pending = err

		if oversized {
			d.malformed++
			logger.Warn("skipping oversized sse line", "limit", maxLineSize)
			continue
		}
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}

		if payload == doneSentinel {
			d.done = true
			d.chunk = Chunk{Terminal: true}
			return true
		}

		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			d.malformed++
			logger.Warn("skipping malformed sse frame", "error", err, "payload", truncate(payload, 120))
			continue
		}

		if f.Error != nil {
			d.malformed++
			logger.Warn("skipping sse error frame", "message", f.Error.Message)
			continue
		}

		// usage-only frames carry no choices
		if len(f.Choices) == 0 {
			continue
		}

		choice := f.Choices[0]
		d.chunk = Chunk{
			Role:         choice.Delta.Role,
			Content:      choice.Delta.Content,
			FinishReason: choice.FinishReason,
		}
		return true
	}

	d.done = true
	if d.pending != io.EOF {
		d.err = d.pending
	}
	return false
}

func (d *Decoder) Chunk() Chunk {
	return d.chunk
}

// Err returns the read error that ended the stream, if any. A stream that
// closes without [DONE] is not an error.
func (d *Decoder) Err() error {
	return d.err
}

// Malformed counts frames that were skipped because they could not be parsed.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// Collect drains r and concatenates every content delta in arrival order.
func Collect(r io.Reader) (string, error) {
	var b strings.Builder

	dec := NewDecoder(r)
	for dec.Next() {
		b.WriteString(dec.Chunk().Content)
	}

	return b.String(), dec.Err()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
