package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/packlift/packlift/pkg/flow"
)

// DefaultHTTPTimeout bounds how long an HTTP Ask waits for answers.
const DefaultHTTPTimeout = 120 * time.Second

// HTTPAdapterConfig configures the ephemeral answer listener.
type HTTPAdapterConfig struct {
	// Addr is the listen address. Defaults to an ephemeral loopback
	// port.
	Addr string

	// Timeout bounds the whole Ask: accepting, reading, and waiting
	// for answers.
	Timeout time.Duration

	Logger zerolog.Logger
}

// HTTPAdapter serves GET /schema and POST /answers on a bound TCP
// listener. Each Ask spawns one acceptor goroutine that exits after
// answers arrive or the timeout elapses; the foreground call blocks
// on a one-shot channel.
type HTTPAdapter struct {
	listener net.Listener
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewHTTPAdapter binds the listener immediately so callers can learn
// the ephemeral address before Ask runs.
func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind answer listener on %s: %w", addr, err)
	}
	return &HTTPAdapter{
		listener: ln,
		timeout:  timeout,
		logger:   cfg.Logger,
	}, nil
}

// Addr returns the bound listener address.
func (a *HTTPAdapter) Addr() net.Addr { return a.listener.Addr() }

// Close shuts the listener down.
func (a *HTTPAdapter) Close() error { return a.listener.Close() }

// Ask publishes the question schema on the listener and blocks until
// a client posts answers or the timeout elapses.
func (a *HTTPAdapter) Ask(ctx context.Context, questions []flow.Question) (map[string]any, error) {
	schema, err := json.Marshal(schemaPayload{Questions: questions})
	if err != nil {
		return nil, fmt.Errorf("encode question schema: %w", err)
	}

	deadline := time.Now().Add(a.timeout)
	if tl, ok := a.listener.(*net.TCPListener); ok {
		if err := tl.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set listener deadline: %w", err)
		}
	}

	answersCh := make(chan map[string]any, 1)
	go a.accept(schema, answersCh, deadline)

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case answers := <-answersCh:
		return mergeAnswers(questions, answers)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// accept serves connections until answers are delivered or the
// listener deadline fires.
func (a *HTTPAdapter) accept(schema []byte, answersCh chan<- map[string]any, deadline time.Time) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			// Deadline elapsed or listener closed.
			return
		}
		if a.handle(conn, schema, answersCh, deadline) {
			return
		}
	}
}

// handle serves one connection. It returns true when answers were
// delivered and the acceptor should exit.
func (a *HTTPAdapter) handle(conn net.Conn, schema []byte, answersCh chan<- map[string]any, deadline time.Time) bool {
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	parser := newRequestParser()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			done, perr := parser.Feed(buf[:n])
			if perr != nil {
				a.respond(conn, 400, []byte(`{"error":"malformed request"}`))
				return false
			}
			if done {
				break
			}
		}
		if err != nil {
			return false
		}
	}

	method, path, body := parser.Request()
	switch {
	case method == "GET" && path == "/schema":
		a.respond(conn, 200, schema)
		return false

	case method == "POST" && path == "/answers":
		var answers map[string]any
		if err := json.Unmarshal(body, &answers); err != nil {
			a.respond(conn, 400, []byte(`{"error":"invalid JSON"}`))
			return false
		}
		a.respond(conn, 200, []byte(`{"status":"accepted"}`))
		// One-shot: the first answer set wins, later posts are
		// dropped.
		select {
		case answersCh <- answers:
		default:
		}
		return true

	default:
		a.respond(conn, 404, []byte(`{"error":"not found"}`))
		return false
	}
}

func (a *HTTPAdapter) respond(conn net.Conn, status int, body []byte) {
	reason := map[int]string{200: "OK", 400: "Bad Request", 404: "Not Found"}[status]
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", status, reason, len(body))
	if _, err := conn.Write(body); err != nil {
		a.logger.Debug().Err(err).Msg("Answer listener response write failed")
	}
}
