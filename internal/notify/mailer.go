// Package notify sends best-effort email notifications through an
// authenticated SMTP relay and journals every attempt to sendmail.log.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"rpi4-alarm/internal/config"
)

// JournalName is the append-only log of send attempts kept in the log
// directory.
const JournalName = "sendmail.log"

const sendTimeout = 2 * time.Minute

// Mailer delivers messages to the configured address. Failures are logged
// and never returned to the caller.
type Mailer struct {
	cfg     config.Mail
	journal string
	send    func(ctx context.Context, msg *mail.Msg) error

	mu sync.Mutex
}

// NewMailer returns a Mailer journaling into logDir.
func NewMailer(cfg config.Mail, logDir string) *Mailer {
	m := &Mailer{cfg: cfg, journal: filepath.Join(logDir, JournalName)}
	m.send = m.dialAndSend
	return m
}

// Notify sends subject and body with an optional attachment path.
func (m *Mailer) Notify(ctx context.Context, subject, body, attachment string) {
	_ = m.deliver(ctx, subject, body, attachment)
}

// Deliver behaves like Notify but also reports whether the message went out.
// Used by the command line helper to set the exit status.
func (m *Mailer) Deliver(ctx context.Context, subject, body, attachment string) error {
	return m.deliver(ctx, subject, body, attachment)
}

func (m *Mailer) deliver(ctx context.Context, subject, body, attachment string) (err error) {
	att := attachment
	if att == "" {
		att = "-"
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			log.Printf("Notifier: send %q failed: %v", subject, err)
			m.appendJournal(fmt.Sprintf("Error while %s %s:\n\n%v\n\n", subject, att, err))
			return
		}
		m.appendJournal(fmt.Sprintf("# SENT %s %s\n", subject, att))
	}()

	m.appendJournal(fmt.Sprintf("* SEND %s %s\n", subject, att))
	msg, err := m.compose(subject, body, attachment)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

func (m *Mailer) compose(subject, body, attachment string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.Sender); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", m.cfg.Sender, err)
	}
	if err := msg.To(m.cfg.Address); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", m.cfg.Address, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if attachment != "" {
		if _, err := os.Stat(attachment); err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}
		msg.AttachFile(attachment)
	}
	return msg, nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Address),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(sendTimeout),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *Mailer) appendJournal(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("Notifier: open %s: %v", m.journal, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		log.Printf("Notifier: write %s: %v", m.journal, err)
	}
}
