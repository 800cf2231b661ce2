package interaction

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRequestParserSingleChunk(t *testing.T) {
	p := newRequestParser()
	done, err := p.Feed([]byte("GET /schema HTTP/1.1\r\nHost: 127.0.0.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if !done {
		t.Fatal("expected request to be complete")
	}

	method, path, body := p.Request()
	if method != "GET" || path != "/schema" {
		t.Fatalf("parsed %s %s", method, path)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestRequestParserChunkedDelivery(t *testing.T) {
	raw := "POST /answers HTTP/1.1\r\nHost: 127.0.0.1\r\nContent-Length: 22\r\n\r\n{\"region\":\"eu-west-1\"}"
	p := newRequestParser()

	for i := 0; i < len(raw); i += 7 {
		end := i + 7
		if end > len(raw) {
			end = len(raw)
		}
		done, err := p.Feed([]byte(raw[i:end]))
		if err != nil {
			t.Fatalf("Feed failed at offset %d: %v", i, err)
		}
		if done != (end == len(raw)) {
			t.Fatalf("done = %v at offset %d", done, end)
		}
	}

	method, path, body := p.Request()
	if method != "POST" || path != "/answers" {
		t.Fatalf("parsed %s %s", method, path)
	}
	if string(body) != `{"region":"eu-west-1"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRequestParserTruncatesExcessBody(t *testing.T) {
	p := newRequestParser()
	done, err := p.Feed([]byte("POST /answers HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}trailing garbage"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if !done {
		t.Fatal("expected request to be complete")
	}
	_, _, body := p.Request()
	if string(body) != "{}" {
		t.Fatalf("expected body truncated to declared length, got %q", body)
	}
}

func TestRequestParserCaseInsensitiveContentLength(t *testing.T) {
	p := newRequestParser()
	done, err := p.Feed([]byte("POST /answers HTTP/1.1\r\ncontent-LENGTH: 4\r\n\r\ntrue"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if !done {
		t.Fatal("expected request to be complete")
	}
	_, _, body := p.Request()
	if string(body) != "true" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRequestParserHeaderLimit(t *testing.T) {
	p := newRequestParser()
	junk := bytes.Repeat([]byte("a"), maxHeaderBytes+1)
	if _, err := p.Feed(junk); !errors.Is(err, errHeadersTooLarge) {
		t.Fatalf("expected errHeadersTooLarge, got %v", err)
	}
}

func TestRequestParserBodyLimit(t *testing.T) {
	p := newRequestParser()
	header := fmt.Sprintf("POST /answers HTTP/1.1\r\nContent-Length: %d\r\n\r\n", maxBodyBytes+1)
	if _, err := p.Feed([]byte(header)); !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected errBodyTooLarge, got %v", err)
	}
}

func TestRequestParserMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "garbage request line", raw: "NONSENSE\r\n\r\n"},
		{name: "not http", raw: "GET /schema SMTP/1.0\r\n\r\n"},
		{name: "content length not a number", raw: "POST / HTTP/1.1\r\nContent-Length: many\r\n\r\n"},
		{name: "negative content length", raw: "POST / HTTP/1.1\r\nContent-Length: -5\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newRequestParser()
			if _, err := p.Feed([]byte(tt.raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestRequestParserIgnoresUnknownHeaders(t *testing.T) {
	p := newRequestParser()
	raw := strings.Join([]string{
		"GET /schema HTTP/1.1",
		"Host: 127.0.0.1:8080",
		"User-Agent: curl/8.0",
		"Accept: */*",
		"", "",
	}, "\r\n")
	done, err := p.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if !done {
		t.Fatal("expected request to be complete")
	}
}
