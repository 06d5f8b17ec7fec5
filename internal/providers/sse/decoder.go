// Package sse decodes line-delimited `data:` event streams into text deltas.
package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"multichat/internal/providers"
)

const doneToken = "[DONE]"

// ExtractFunc pulls the incremental text out of one data payload. Any error
// other than *providers.TransportError means the line is skipped.
type ExtractFunc func(data []byte) (string, error)

// Decoder buffers partial lines across reads.
type Decoder struct {
	extract ExtractFunc
	buf     []byte
	done    bool
}

func NewDecoder(extract ExtractFunc) *Decoder {
	return &Decoder{extract: extract}
}

// Feed appends p and decodes every complete line. It stops at [DONE] or at a
// vendor error envelope.
func (d *Decoder) Feed(p []byte) ([]string, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, p...)

	var deltas []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]

		delta, err := d.line(line)
		if err != nil {
			return deltas, err
		}
		if delta != "" {
			deltas = append(deltas, delta)
		}
		if d.done {
			d.buf = nil
			break
		}
	}
	return deltas, nil
}

// Flush decodes a trailing line that arrived without a newline.
func (d *Decoder) Flush() ([]string, error) {
	if d.done || len(d.buf) == 0 {
		return nil, nil
	}
	line := string(d.buf)
	d.buf = nil
	delta, err := d.line(line)
	if err != nil || delta == "" {
		return nil, err
	}
	return []string{delta}, nil
}

func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) line(line string) (string, error) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return "", nil
	}
	if data == doneToken {
		d.done = true
		return "", nil
	}

	delta, err := d.extract([]byte(data))
	if err != nil {
		var te *providers.TransportError
		if errors.As(err, &te) {
			d.done = true
			return "", err
		}
		return "", nil
	}
	return delta, nil
}

const readSize = 4096

// Stream reads body until EOF, [DONE], a vendor error or cancellation. Every
// delta is forwarded to onChunk as soon as its line completes. The returned
// text is the concatenation of all forwarded deltas, also on error.
func Stream(ctx context.Context, body io.Reader, extract ExtractFunc, onChunk providers.ChunkFunc) (string, error) {
	dec := NewDecoder(extract)
	var full strings.Builder
	emit := func(deltas []string) {
		for _, delta := range deltas {
			full.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
	}

	buf := make([]byte, readSize)
	for {
		if ctx.Err() != nil {
			return full.String(), providers.Canceled(ctx)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			deltas, err := dec.Feed(buf[:n])
			emit(deltas)
			if err != nil {
				return full.String(), err
			}
			if dec.Done() {
				return full.String(), nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			deltas, err := dec.Flush()
			emit(deltas)
			return full.String(), err
		}
		if ctx.Err() != nil {
			return full.String(), providers.Canceled(ctx)
		}
		return full.String(), fmt.Errorf("read stream: %w", readErr)
	}
}
