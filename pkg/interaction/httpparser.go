package interaction

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parser bounds. Requests here are a question schema fetch or a
// small answer object; anything bigger is rejected.
const (
	maxHeaderBytes = 8 * 1024
	maxBodyBytes   = 1 << 20
)

var (
	errHeadersTooLarge = errors.New("request headers exceed limit")
	errBodyTooLarge    = errors.New("request body exceeds limit")
)

// requestParser is a bounded incremental parser for the tiny HTTP
// surface the answer listener serves: request line, headers up to a
// blank line, then a body of exactly Content-Length bytes. It works
// on byte chunks so it can be tested without sockets.
type requestParser struct {
	buf           []byte
	headersParsed bool
	method        string
	path          string
	contentLength int
	body          []byte
}

func newRequestParser() *requestParser {
	return &requestParser{}
}

// Feed consumes the next chunk from the connection. It returns true
// once the full request (headers plus declared body) has been seen.
func (p *requestParser) Feed(chunk []byte) (bool, error) {
	if !p.headersParsed {
		p.buf = append(p.buf, chunk...)
		end := bytes.Index(p.buf, []byte("\r\n\r\n"))
		if end < 0 {
			if len(p.buf) > maxHeaderBytes {
				return false, errHeadersTooLarge
			}
			return false, nil
		}
		if err := p.parseHeaders(p.buf[:end]); err != nil {
			return false, err
		}
		p.headersParsed = true
		p.body = append(p.body, p.buf[end+4:]...)
		p.buf = nil
	} else {
		p.body = append(p.body, chunk...)
	}

	if p.contentLength > maxBodyBytes {
		return false, errBodyTooLarge
	}
	if len(p.body) > p.contentLength {
		p.body = p.body[:p.contentLength]
	}
	return len(p.body) >= p.contentLength, nil
}

// parseHeaders decodes the request line and the Content-Length
// header; other headers are ignored.
func (p *requestParser) parseHeaders(raw []byte) error {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 {
		return errors.New("empty request")
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return fmt.Errorf("malformed request line %q", lines[0])
	}
	p.method = parts[0]
	p.path = parts[1]

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return fmt.Errorf("invalid content-length %q", strings.TrimSpace(value))
			}
			p.contentLength = n
		}
	}
	return nil
}

// Request returns the parsed request once Feed has reported
// completion.
func (p *requestParser) Request() (method, path string, body []byte) {
	return p.method, p.path, p.body
}
