package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"rpi4-alarm/internal/debuglog"
	"rpi4-alarm/internal/host"
)

type commandRunner interface {
	Run(ctx context.Context, args ...string) host.Result
}

// MMCLI drives ModemManager through the mmcli command line tool.
type MMCLI struct {
	runner commandRunner
	debug  *debuglog.Logger
}

// NewMMCLI returns an mmcli backed transport.
func NewMMCLI(runner commandRunner, debug *debuglog.Logger) *MMCLI {
	return &MMCLI{runner: runner, debug: debug}
}

// ListModems returns the D-Bus paths of the modems ModemManager knows.
func (m *MMCLI) ListModems(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "-J", "-L")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Modems []string `json:"modem-list"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, fmt.Errorf("%w: modem list: %v", ErrMalformed, err)
	}
	return resp.Modems, nil
}

// ListMessages returns the SMS paths stored on modem.
func (m *MMCLI) ListMessages(ctx context.Context, modem string) ([]string, error) {
	out, err := m.run(ctx, "-J", "-m", modem, "--messaging-list-sms")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []string `json:"modem.messaging.sms"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, fmt.Errorf("%w: sms list: %v", ErrMalformed, err)
	}
	return resp.Messages, nil
}

// ReadMessage reads the sender and text of one SMS.
func (m *MMCLI) ReadMessage(ctx context.Context, modem, handle string) (Message, error) {
	out, err := m.run(ctx, "-J", "-m", modem, "--sms", handle)
	if err != nil {
		return Message{}, err
	}
	return parseMMCLIMessage([]byte(out))
}

// SendText creates an outbound SMS for recipient, sends it and removes it
// from the modem storage.
func (m *MMCLI) SendText(ctx context.Context, modem, text, recipient string) error {
	create := fmt.Sprintf(`--messaging-create-sms=text="%s",number="%s"`, FitText(text), recipient)
	out, err := m.run(ctx, "-m", modem, create)
	if err != nil {
		return fmt.Errorf("create sms: %w", err)
	}
	sms, err := parseCreatedSMS(out)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.DeleteMessage(ctx, modem, sms); err != nil {
			log.Printf("mmcli: cleanup of sent sms %s failed: %v", sms, err)
		}
	}()

	if _, err := m.run(ctx, "-m", modem, "-s", sms, "--send"); err != nil {
		return fmt.Errorf("send sms %s: %w", sms, err)
	}
	return nil
}

// DeleteMessage removes an SMS from the modem.
func (m *MMCLI) DeleteMessage(ctx context.Context, modem, handle string) error {
	_, err := m.run(ctx, "-m", modem, "--messaging-delete-sms="+handle)
	return err
}

func (m *MMCLI) run(ctx context.Context, args ...string) (string, error) {
	res := m.runner.Run(ctx, append([]string{"mmcli"}, args...)...)
	m.debug.Printf("mmcli: %s", res)
	if !res.OK() {
		op := "mmcli " + firstAction(args)
		msg := host.Describe(op, res.Err)
		if msg == "" {
			msg = fmt.Sprintf("%s failed (exit code %d)", op, res.ExitCode)
		}
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		return res.Stdout, errors.New(msg)
	}
	return res.Stdout, nil
}

func firstAction(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "--") || a == "-L" || a == "-s" {
			if i := strings.IndexByte(a, '='); i > 0 {
				return a[:i]
			}
			return a
		}
	}
	return strings.Join(args, " ")
}

func parseMMCLIMessage(data []byte) (Message, error) {
	var resp struct {
		SMS json.RawMessage `json:"sms"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.SMS) == 0 {
		return Message{}, fmt.Errorf("%w: sms: missing body", ErrMalformed)
	}
	var body struct {
		Content struct {
			Number string `json:"number"`
			Text   string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.SMS, &body); err != nil {
		return Message{}, fmt.Errorf("%w: sms: %v", ErrMalformed, err)
	}
	return Message{
		Sender: body.Content.Number,
		Text:   body.Content.Text,
		Raw:    resp.SMS,
	}, nil
}

// parseCreatedSMS extracts the path from
// "Successfully created new SMS: /org/freedesktop/ModemManager1/SMS/9".
func parseCreatedSMS(out string) (string, error) {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(line, "Successfully created") {
		return "", fmt.Errorf("%w: create sms: %q", ErrMalformed, line)
	}
	return fields[len(fields)-1], nil
}
