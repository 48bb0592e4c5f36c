package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.bug.st/serial"

	"rpi4-alarm/internal/debuglog"
)

const (
	commandTimeout = 5 * time.Second
	submitTimeout  = 60 * time.Second
	portReadTick   = 200 * time.Millisecond
	ctrlZ          = "\x1a"

	pduMode  = "AT+CMGF=0"
	textMode = "AT+CMGF=1"
)

// Serial issues AT commands to modems on serial ports. Stored messages are
// listed and read in PDU mode, where every body is a single hex line and
// cannot be mistaken for a result code. Replies are submitted in text mode.
// Modem handles are port paths and message handles are storage indices.
type Serial struct {
	patterns []string
	baud     int
	debug    *debuglog.Logger
	open     func(name string, baud int) (io.ReadWriteCloser, error)
	now      func() time.Time

	mu    sync.Mutex
	retry map[string]*portRetry
}

type portRetry struct {
	backoff backoff.Backoff
	until   time.Time
}

// NewSerial returns a transport over the ports matched by patterns.
func NewSerial(patterns []string, baud int, debug *debuglog.Logger) *Serial {
	return &Serial{
		patterns: patterns,
		baud:     baud,
		debug:    debug,
		open:     openSerialPort,
		now:      time.Now,
		retry:    make(map[string]*portRetry),
	}
}

func openSerialPort(name string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(portReadTick); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return port, nil
}

// ListModems returns the ports that answer AT. A port that fails is not
// tried again until its backoff delay has passed.
func (s *Serial) ListModems(ctx context.Context) ([]string, error) {
	var ports []string
	for _, pattern := range s.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad port pattern %q: %w", pattern, err)
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)

	var modems []string
	for _, port := range ports {
		if !s.due(port) {
			continue
		}
		err := s.withPort(ctx, port, textMode, func(c *atConn) error {
			_, err := c.command(ctx, "AT")
			return err
		})
		s.record(port, err)
		if err != nil {
			log.Printf("serial: %s not responding: %v", port, err)
			continue
		}
		modems = append(modems, port)
	}
	return modems, nil
}

// ListMessages returns the storage indices of every stored SMS.
func (s *Serial) ListMessages(ctx context.Context, modem string) ([]string, error) {
	var lines []string
	err := s.withPort(ctx, modem, pduMode, func(c *atConn) error {
		var err error
		lines, err = c.command(ctx, "AT+CMGL=4")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list messages on %s: %w", modem, err)
	}
	indices, err := parseCMGL(lines)
	if err != nil {
		return nil, fmt.Errorf("list messages on %s: %w", modem, err)
	}
	return indices, nil
}

// ReadMessage reads one SMS by storage index.
func (s *Serial) ReadMessage(ctx context.Context, modem, handle string) (Message, error) {
	if _, err := strconv.Atoi(handle); err != nil {
		return Message{}, fmt.Errorf("invalid message index %q", handle)
	}
	var lines []string
	err := s.withPort(ctx, modem, pduMode, func(c *atConn) error {
		var err error
		lines, err = c.command(ctx, "AT+CMGR="+handle)
		return err
	})
	if err != nil {
		return Message{}, fmt.Errorf("read message %s on %s: %w", handle, modem, err)
	}
	return parseCMGR(handle, lines)
}

// SendText submits a text mode SMS to recipient.
func (s *Serial) SendText(ctx context.Context, modem, text, recipient string) error {
	if strings.ContainsAny(recipient, "\"\r\n") {
		return fmt.Errorf("invalid recipient %q", recipient)
	}
	err := s.withPort(ctx, modem, textMode, func(c *atConn) error {
		resp, err := c.exchange(ctx, `AT+CMGS="`+recipient+`"`+"\r", commandTimeout, promptReady)
		if err != nil {
			return err
		}
		if !promptReady(resp) {
			return fmt.Errorf("%w: no prompt for message text", ErrModemError)
		}
		resp, err = c.exchange(ctx, FitText(text)+ctrlZ, submitTimeout, finalResult)
		if err != nil {
			return err
		}
		_, err = resultLines(resp, "")
		return err
	})
	if err != nil {
		return fmt.Errorf("send sms on %s: %w", modem, err)
	}
	return nil
}

// DeleteMessage removes an SMS by storage index.
func (s *Serial) DeleteMessage(ctx context.Context, modem, handle string) error {
	if _, err := strconv.Atoi(handle); err != nil {
		return fmt.Errorf("invalid message index %q", handle)
	}
	err := s.withPort(ctx, modem, pduMode, func(c *atConn) error {
		_, err := c.command(ctx, "AT+CMGD="+handle)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete message %s on %s: %w", handle, modem, err)
	}
	return nil
}

func (s *Serial) due(port string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retry[port]
	return !ok || !s.now().Before(r.until)
}

func (s *Serial) record(port string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.retry, port)
		return
	}
	r, ok := s.retry[port]
	if !ok {
		r = &portRetry{backoff: backoff.Backoff{Min: time.Second, Max: 5 * time.Minute, Factor: 2}}
		s.retry[port] = r
	}
	r.until = s.now().Add(r.backoff.Duration())
}

// withPort opens the port, selects the message format with mode and runs fn.
// The port is closed when fn returns.
func (s *Serial) withPort(ctx context.Context, name, mode string, fn func(c *atConn) error) error {
	port, err := s.open(name, s.baud)
	if err != nil {
		return err
	}
	defer port.Close()

	c := &atConn{port: port, name: name, debug: s.debug}
	for _, cmd := range []string{"ATE0", mode} {
		if _, err := c.command(ctx, cmd); err != nil {
			return fmt.Errorf("init %s: %w", cmd, err)
		}
	}
	return fn(c)
}

type atConn struct {
	port  io.ReadWriter
	name  string
	debug *debuglog.Logger
}

func (c *atConn) command(ctx context.Context, cmd string) ([]string, error) {
	resp, err := c.exchange(ctx, cmd+"\r", commandTimeout, finalResult)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	lines, err := resultLines(resp, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return lines, nil
}

// exchange writes data and reads until done reports a complete response.
func (c *atConn) exchange(ctx context.Context, data string, timeout time.Duration, done func(string) bool) (string, error) {
	c.debug.Printf("serial: %s <- %q", c.name, data)
	if _, err := c.port.Write([]byte(data)); err != nil {
		return "", fmt.Errorf("write to %s: %w", c.name, err)
	}

	var resp strings.Builder
	buf := make([]byte, 512)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return resp.String(), err
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			resp.Write(buf[:n])
			if done(resp.String()) {
				c.debug.Printf("serial: %s -> %q", c.name, resp.String())
				return resp.String(), nil
			}
		}
		if err != nil && err != io.EOF {
			return resp.String(), fmt.Errorf("read from %s: %w", c.name, err)
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return resp.String(), fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

func promptReady(resp string) bool {
	return strings.Contains(resp, ">")
}

// finalResult reports whether the last complete line of resp is a final
// result code.
func finalResult(resp string) bool {
	if !strings.HasSuffix(resp, "\n") && !strings.HasSuffix(resp, "\r") {
		return false
	}
	lines := splitLines(resp)
	return len(lines) > 0 && isFinal(lines[len(lines)-1])
}

func isFinal(line string) bool {
	return line == "OK" || line == "ERROR" ||
		strings.HasPrefix(line, "+CMS ERROR:") || strings.HasPrefix(line, "+CME ERROR:")
}

// resultLines returns the information lines of a response, dropping the
// command echo and the final result code. Only the last line is taken as
// the result.
func resultLines(resp, echo string) ([]string, error) {
	all := splitLines(resp)
	if len(all) == 0 || !isFinal(all[len(all)-1]) {
		return nil, fmt.Errorf("%w: missing final result", ErrMalformed)
	}
	if final := all[len(all)-1]; final != "OK" {
		return nil, fmt.Errorf("%w: %s", ErrModemError, final)
	}
	var lines []string
	for _, line := range all[:len(all)-1] {
		if line == echo || line == ">" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func splitLines(resp string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(resp, "\r", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseCMGL extracts the indices from a PDU mode listing, where each
//
//	+CMGL: <index>,<stat>,[<alpha>],<length>
//
// header is followed by exactly one hex PDU line. Other lines outside an
// entry are unsolicited codes and are skipped.
func parseCMGL(lines []string) ([]string, error) {
	var indices []string
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "+CMGL:") {
			continue
		}
		head := strings.TrimSpace(strings.TrimPrefix(lines[i], "+CMGL:"))
		idx, _, _ := strings.Cut(head, ",")
		if _, err := strconv.Atoi(idx); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, lines[i])
		}
		if i+1 >= len(lines) || !isHex(lines[i+1]) {
			return nil, fmt.Errorf("%w: no pdu after %q", ErrMalformed, lines[i])
		}
		indices = append(indices, idx)
		i++
	}
	return indices, nil
}

// parseCMGR decodes a PDU mode read:
//
//	+CMGR: <stat>,[<alpha>],<length>
//	<pdu>
func parseCMGR(index string, lines []string) (Message, error) {
	for i, line := range lines {
		if !strings.HasPrefix(line, "+CMGR:") {
			continue
		}
		if i+1 >= len(lines) {
			return Message{}, fmt.Errorf("%w: no pdu after %q", ErrMalformed, line)
		}
		d, err := decodeDeliver(lines[i+1])
		if err != nil {
			return Message{}, fmt.Errorf("message %s: %w", index, err)
		}
		stat, _, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "+CMGR:")), ",")

		record := map[string]string{
			"index":     index,
			"status":    stat,
			"number":    d.sender,
			"timestamp": d.timestamp,
			"text":      d.text,
			"pdu":       lines[i+1],
		}
		if name, ok := pduStatus[stat]; ok {
			record["status"] = name
		}
		if d.smsc != "" {
			record["smsc"] = d.smsc
		}
		raw, _ := json.Marshal(record)
		return Message{Sender: d.sender, Text: d.text, Raw: raw}, nil
	}
	return Message{}, fmt.Errorf("%w: no message at index %s", ErrMalformed, index)
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", c) {
			return false
		}
	}
	return true
}
