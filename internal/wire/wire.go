// Package wire implements the line-oriented protocol spoken between the
// reservation client and the leasing authority.
//
// A request is a single line "COMMAND HEXPAYLOAD\n" sent over a fresh TCP
// connection. The server answers with one or more lines of the same shape;
// intermediate lines echo the request command and carry progress results,
// and the exchange ends with a line whose command is the literal "DONE"
// carrying the final result. A line tagged with any other command, or a
// connection that closes before a DONE line, is a protocol failure.
//
// Payloads are the hex encoding of a versioned JSON envelope. Version 1 is
// the only version in use; anything else is rejected as a protocol error.
package wire

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultServer is the compiled-in leasing authority hostname, used when
	// neither an explicit override nor the environment selects one.
	DefaultServer = "rsvp.pool"

	// EnvServer selects the leasing authority host. An explicit caller
	// override still wins over it.
	EnvServer = "RSVP_SERVER"

	// DefaultPort is the leasing authority's listen port.
	DefaultPort = 1752

	// doneCommand tags the terminal line of a successful exchange.
	doneCommand = "DONE"

	// envelopeVersion is the only payload envelope version understood.
	envelopeVersion = 1

	defaultDialTimeout = 30 * time.Second

	// defaultExchangeTimeout bounds a whole exchange when the context
	// carries no deadline of its own, so a hung server cannot block a
	// request forever.
	defaultExchangeTimeout = 5 * time.Minute
)

// ResolveServer picks the leasing authority host: an explicit non-empty
// override wins, then the RSVP_SERVER environment variable, then the
// compiled default.
func ResolveServer(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvServer); env != "" {
		return env
	}
	return DefaultServer
}

// Result is the decoded final payload of a protocol exchange.
type Result struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Temporary bool   `json:"temporary,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// OK reports whether the result is a success.
func (r *Result) OK() bool { return r.Type == "success" }

// Success builds a success result carrying data.
func Success(message string, data any) *Result {
	return &Result{Type: "success", Message: message, Data: data}
}

// Error builds an error result; temporary marks it retryable.
func Error(message string, temporary bool) *Result {
	return &Result{Type: "error", Message: message, Temporary: temporary}
}

// ProtocolError reports a malformed or mismatched exchange. It is never
// retried by callers.
type ProtocolError struct {
	Command string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s", e.Command, e.Reason)
}

type envelope struct {
	V    int             `json:"v"`
	Body json.RawMessage `json:"body"`
}

// EncodePayload hex-encodes the version-1 JSON envelope around body.
func EncodePayload(body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env, err := json.Marshal(envelope{V: envelopeVersion, Body: raw})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return hex.EncodeToString(env), nil
}

// DecodePayload reverses EncodePayload into body.
func DecodePayload(payload string, body any) error {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.V != envelopeVersion {
		return fmt.Errorf("unsupported envelope version %d", env.V)
	}
	if body == nil {
		return nil
	}
	if err := json.Unmarshal(env.Body, body); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// EncodeRequest renders the single request line for a command, without the
// trailing newline.
func EncodeRequest(command string, params any) (string, error) {
	payload, err := EncodePayload(params)
	if err != nil {
		return "", err
	}
	return command + " " + payload, nil
}

// DecodeRequest splits a request line into its command and decodes the
// parameter payload into params. Used by the test server.
func DecodeRequest(line string, params any) (string, error) {
	command, payload, ok := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	if !ok {
		return "", fmt.Errorf("request line has no payload")
	}
	if err := DecodePayload(payload, params); err != nil {
		return "", err
	}
	return command, nil
}

// EncodeResponse renders one response line, without the trailing newline.
func EncodeResponse(command string, result *Result) (string, error) {
	payload, err := EncodePayload(result)
	if err != nil {
		return "", err
	}
	return command + " " + payload, nil
}

// Codec performs whole exchanges against the leasing authority. Every
// exchange opens, uses, and closes its own connection, so there is no
// connection state to carry across retries.
type Codec struct {
	addr        string
	dialTimeout time.Duration
	log         *log.Entry
}

// NewCodec builds a codec for the given server host. An empty host falls
// back through the environment to the compiled default.
func NewCodec(server string, port int) *Codec {
	if port == 0 {
		port = DefaultPort
	}
	host := ResolveServer(server)
	return &Codec{
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: defaultDialTimeout,
		log:         log.WithField("server", host),
	}
}

// Addr returns the host:port the codec dials.
func (c *Codec) Addr() string { return c.addr }

// Exchange sends one request and reads the response stream through its DONE
// line, returning the final result. Interrupted-system-call failures while
// dialing are retried transparently; any other dial failure is fatal.
func (c *Codec) Exchange(ctx context.Context, command string, params any) (*Result, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultExchangeTimeout)
	}
	_ = conn.SetDeadline(deadline)

	line, err := EncodeRequest(command, params)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return nil, &ProtocolError{Command: command, Reason: fmt.Sprintf("send failed: %v", err)}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		respCommand, payload, ok := strings.Cut(scanner.Text(), " ")
		if !ok {
			return nil, &ProtocolError{Command: command, Reason: "response line has no payload"}
		}
		var result Result
		if err := DecodePayload(payload, &result); err != nil {
			return nil, &ProtocolError{Command: command, Reason: err.Error()}
		}
		switch respCommand {
		case doneCommand:
			return &result, nil
		case command:
			// Progress line; the server narrates long operations.
			c.log.WithField("command", command).Debug(result.Message)
		default:
			return nil, &ProtocolError{
				Command: command,
				Reason:  fmt.Sprintf("response for %q while waiting on %q", respCommand, command),
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProtocolError{Command: command, Reason: fmt.Sprintf("read failed: %v", err)}
	}
	return nil, &ProtocolError{Command: command, Reason: "connection closed before DONE"}
}

func (c *Codec) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, syscall.EINTR) {
			c.log.Debug("dial interrupted, reconnecting")
			continue
		}
		return nil, fmt.Errorf("cannot reach leasing authority at %s (is the server down?): %w", c.addr, err)
	}
}

// DecodeRows decodes a result's data payload, which travels as generic JSON,
// into a typed destination.
func DecodeRows(data any, dest any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  dest,
	})
	if err != nil {
		return fmt.Errorf("build payload decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("decode data payload: %w", err)
	}
	return nil
}
