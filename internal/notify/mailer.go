package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends plain-text email with PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, User: user, Password: password, From: from, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Host == "" {
		return errors.New("smtp host not configured")
	}
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("parse recipient address: %w", err)
	}

	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Password, m.Host)
	}

	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	return m.send(addr, auth, from.Address, []string{rcpt.Address}, buildMessage(from.String(), rcpt.String(), subject, body))
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

var _ Mailer = (*SMTPMailer)(nil)
