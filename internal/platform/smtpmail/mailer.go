// Package smtpmail submits plain-text notification emails over SMTP.
package smtpmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/phrazzld/dotlist-notify/internal/notify"
)

// implicitTLSPort is the submission port that expects TLS from the first byte
const implicitTLSPort = 465

// sendFunc submits a composed message
type sendFunc func(ctx context.Context, from string, to []string, r io.Reader) error

// dialFunc opens the TCP connection to the server
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config holds the SMTP submission settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Mailer implements notify.Mailer with go-message composition and go-smtp
// submission. Port 465 uses implicit TLS, any other port STARTTLS. The
// context bounds the whole SMTP session, dial included.
type Mailer struct {
	addr        string
	host        string
	implicitTLS bool
	auth        sasl.Client
	dial        dialFunc
	send        sendFunc
	logger      *slog.Logger
	clock       func() time.Time
}

// Verify interface compliance at compile time
var _ notify.Mailer = (*Mailer)(nil)

// New creates a Mailer. Authentication is skipped when Username is empty.
func New(cfg Config, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}

	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}

	dialer := &net.Dialer{}
	m := &Mailer{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:        cfg.Host,
		implicitTLS: cfg.Port == implicitTLSPort,
		auth:        auth,
		dial:        dialer.DialContext,
		logger:      logger.With(slog.String("component", "smtp_mailer")),
		clock:       time.Now,
	}
	m.send = m.submit
	return m
}

// SendMail implements notify.Mailer. The returned receipt is the Message-ID.
func (m *Mailer) SendMail(ctx context.Context, from, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("invalid from address: %w", err)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	raw, messageID, err := m.compose(fromAddr, toAddr, subject, body)
	if err != nil {
		return "", err
	}

	if err := m.send(ctx, fromAddr.Address, []string{toAddr.Address}, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("smtp submission failed: %w", err)
	}

	return messageID, nil
}

// submit runs one SMTP session. Cancelling ctx closes the connection, which
// aborts whatever command is in flight.
func (m *Mailer) submit(ctx context.Context, from string, to []string, r io.Reader) (err error) {
	conn, err := m.dial(ctx, "tcp", m.addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			err = ctxErr
		}
	}()

	tlsConfig := &tls.Config{ServerName: m.host}
	var c *smtp.Client
	if m.implicitTLS {
		c = smtp.NewClient(tls.Client(conn, tlsConfig))
	} else {
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return err
		}
	}
	defer c.Close()

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return fmt.Errorf("server %s does not support AUTH", m.addr)
		}
		if err := c.Auth(m.auth); err != nil {
			return err
		}
	}

	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

// compose renders a single-part text/plain message
func (m *Mailer) compose(from, to *mail.Address, subject, body string) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(m.clock())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageIDWithHostname(hostOf(from.Address)); err != nil {
		return nil, "", fmt.Errorf("failed to generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, "", fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

// hostOf returns the domain part of an address
func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return "localhost"
}
