package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/router-for-me/codexgate/internal/logging"
	"github.com/tidwall/gjson"
)

var (
	dataTag        = []byte("data:")
	doneMarker     = []byte("[DONE]")
	blockSeparator = []byte("\n\n")
)

const sseReadChunkSize = 32 * 1024

// EventReader splits a server-sent-event body into data payloads. Blocks may span any
// number of reads; a block left unterminated at EOF is still decoded.
type EventReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	eof   bool
}

// NewEventReader returns a reader over r. The reader is not restartable.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: r, chunk: make([]byte, sseReadChunkSize)}
}

// Next returns the next non-empty payload, or io.EOF once the body is drained.
// "[DONE]" markers are skipped.
func (er *EventReader) Next() ([]byte, error) {
	for {
		if idx := bytes.Index(er.buf, blockSeparator); idx >= 0 {
			block := er.buf[:idx]
			er.buf = er.buf[idx+len(blockSeparator):]
			if payload := blockPayload(block); payload != nil {
				return payload, nil
			}
			continue
		}
		if er.eof {
			if len(er.buf) == 0 {
				return nil, io.EOF
			}
			block := er.buf
			er.buf = nil
			if payload := blockPayload(block); payload != nil {
				return payload, nil
			}
			return nil, io.EOF
		}
		n, err := er.r.Read(er.chunk)
		if n > 0 {
			er.buf = appendWithoutCR(er.buf, er.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				er.eof = true
				continue
			}
			return nil, err
		}
	}
}

func appendWithoutCR(dst, src []byte) []byte {
	for len(src) > 0 {
		idx := bytes.IndexByte(src, '\r')
		if idx < 0 {
			return append(dst, src...)
		}
		dst = append(dst, src[:idx]...)
		src = src[idx+1:]
	}
	return dst
}

// blockPayload joins the trimmed data lines of one block. It returns nil for blocks
// without data, empty payloads and the done marker.
func blockPayload(block []byte) []byte {
	var parts [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		if !bytes.HasPrefix(line, dataTag) {
			continue
		}
		parts = append(parts, bytes.TrimSpace(line[len(dataTag):]))
	}
	if len(parts) == 0 {
		return nil
	}
	payload := bytes.TrimSpace(bytes.Join(parts, []byte("\n")))
	if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
		return nil
	}
	return bytes.Clone(payload)
}

// Accumulator folds decoded payloads into the final output text.
type Accumulator struct {
	out     strings.Builder
	usage   UsageDetail
	skipped int
}

// Add applies one payload. It reports false when the payload was not valid JSON
// and was skipped.
func (a *Accumulator) Add(payload []byte) bool {
	if !gjson.ValidBytes(payload) {
		a.skipped++
		return false
	}
	event := gjson.ParseBytes(payload)
	eventType := event.Get("type").String()
	switch eventType {
	case "response.output_text.delta":
		a.out.WriteString(event.Get("delta").String())
		return true
	case "response.completed":
		if detail, ok := parseCodexUsage(event); ok {
			a.usage = detail
		}
	}
	if a.out.Len() > 0 {
		return true
	}
	if eventType == "response.output_text.done" {
		if text := event.Get("text").String(); text != "" {
			a.out.WriteString(text)
			return true
		}
	}
	for _, path := range []string{"response.output_text", "output_text"} {
		if text := event.Get(path).String(); text != "" {
			a.out.WriteString(text)
			break
		}
	}
	return true
}

// Text returns the accumulated output.
func (a *Accumulator) Text() string { return a.out.String() }

// Usage returns the token usage of the completed response, if it was reported.
func (a *Accumulator) Usage() UsageDetail { return a.usage }

// Skipped returns how many malformed payloads were ignored.
func (a *Accumulator) Skipped() int { return a.skipped }

// decodeEventStream drains body and returns the accumulated text.
func decodeEventStream(ctx context.Context, body io.Reader) (string, error) {
	reader := NewEventReader(body)
	var acc Accumulator
	for {
		payload, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if !acc.Add(payload) {
			logging.WithContext(ctx).Debugf("skipping malformed stream payload: %.200s", payload)
		}
	}
	if usage := acc.Usage(); !usage.IsZero() {
		logging.WithContext(ctx).WithField("tokens", usage.TotalTokens).Debugf("completion usage input=%d output=%d reasoning=%d cached=%d",
			usage.InputTokens, usage.OutputTokens, usage.ReasoningTokens, usage.CachedTokens)
	}
	return acc.Text(), nil
}
