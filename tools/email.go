package tools

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/BaSui01/nodeflow/types"
)

// SendEmail sends a plain-text email over SMTP (STARTTLS when offered).
type SendEmail struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (e *SendEmail) Name() string        { return "send_email" }
func (e *SendEmail) Description() string { return "Send an email using SMTP." }

func (e *SendEmail) Parameters() map[string]any {
	return objectSchema([]string{"to", "subject", "body"}, map[string]any{
		"to":      prop("string", "recipient address"),
		"subject": prop("string", "subject line"),
		"body":    prop("string", "plain-text body"),
	})
}

func (e *SendEmail) Call(ctx context.Context, call Call) (any, error) {
	to := stringArg(call.Args, "to")
	subject := stringArg(call.Args, "subject")
	body := stringArg(call.Args, "body")
	if to == "" {
		return nil, types.NewConfigurationError("send_email requires a recipient")
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return nil, types.NewConfigurationError("send_email: header fields must not contain line breaks")
	}
	password := call.APIKey
	if password == "" {
		password = e.Password
	}
	if e.Username == "" || password == "" {
		return nil, types.NewConfigurationError("SMTP username and password are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host := e.Host
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := e.Port
	if port == 0 {
		port = 587
	}
	from := e.From
	if from == "" {
		from = e.Username
	}

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if err := send(addr, smtp.PlainAuth("", e.Username, password, host), from, []string{to}, []byte(msg)); err != nil {
		return nil, classifyTransport("send email", err)
	}
	return fmt.Sprintf("Email sent to %s with subject '%s'", to, subject), nil
}
