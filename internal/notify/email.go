package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends notifications as plain text mail over SMTP.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	clock    func() time.Time
	send     SendFunc
}

// EmailOptions configures an EmailNotifier.
type EmailOptions struct {
	Host     string
	Port     int // defaults to 587
	Username string
	Password string
	From     string
	To       []string
}

// NewEmailNotifier creates an EmailNotifier. Authentication is PLAIN and
// only used when a username is set.
func NewEmailNotifier(opts EmailOptions) (*EmailNotifier, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp_host is required for email notifications")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("from is required for email notifications")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required for email notifications")
	}
	port := opts.Port
	if port == 0 {
		port = 587
	}
	return &EmailNotifier{
		host:     opts.Host,
		port:     port,
		username: opts.Username,
		password: opts.Password,
		from:     opts.From,
		to:       append([]string(nil), opts.To...),
		clock:    time.Now,
		send:     smtp.SendMail,
	}, nil
}

// WithSender replaces the function used to hand mail to the server.
func (n *EmailNotifier) WithSender(send SendFunc) *EmailNotifier {
	n.send = send
	return n
}

func (n *EmailNotifier) addr() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return notifyError(n.addr(), "notification failed", err)
	}

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	msg := n.buildMessage(subject, body)
	if err := n.send(n.addr(), auth, n.from, n.to, msg); err != nil {
		return notifyError(n.addr(), "notification failed", err)
	}
	return nil
}

// buildMessage constructs the message with headers. Bare newlines in body
// are converted to CRLF.
func (n *EmailNotifier) buildMessage(subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", n.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(n.to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeHeader(subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", n.clock().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
