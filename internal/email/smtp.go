package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"identity-service/internal/config"
	"identity-service/internal/util"
)

// Notifier delivers account emails. Implementations must be safe for
// concurrent use.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string) error
}

// SMTPNotifier sends mail over plain SMTP with STARTTLS, or implicit
// TLS on port 465.
type SMTPNotifier struct {
	cfg config.SMTPConfig
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) SendVerificationCode(ctx context.Context, to, code string) error {
	subject := "Your verification code"
	body := "Your verification code is: " + code + "\nIt expires shortly. If you did not request it, ignore this message."
	return n.send(ctx, to, subject, body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	fromAddr := parseAddress(n.cfg.From)
	message := buildMessage(n.cfg.From, to, subject, body)

	client, err := n.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer client.Close()

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(fromAddr); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func (n *SMTPNotifier) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	var dialer net.Dialer

	// Port 465 is implicit TLS; everything else upgrades via STARTTLS
	// when the server offers it.
	if n.cfg.Port == 465 {
		conn, err := (&tls.Dialer{NetDialer: &dialer, Config: &tls.Config{ServerName: n.cfg.Host}}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, n.cfg.Host)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

func buildMessage(from, to, subject, body string) string {
	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}
	return strings.Join(headers, "\r\n")
}

func parseAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}
	return strings.TrimSpace(from)
}

// LogNotifier logs codes instead of sending mail. Used in development
// when SMTP is disabled.
type LogNotifier struct{}

func (LogNotifier) SendVerificationCode(_ context.Context, to, code string) error {
	util.Info("verification code issued (SMTP disabled)",
		util.String("to", to),
		util.String("code", code))
	return nil
}

var (
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = LogNotifier{}
)
