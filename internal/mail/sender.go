package mail

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/ameliade/crosspost/internal/config"
	"github.com/ameliade/crosspost/internal/models"
)

// Sender delivers notification mail over SMTP. With no SMTP host configured
// it is disabled and every send is a logged no-op.
type Sender struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSender creates a Sender from the SMTP settings in the configuration.
func NewSender(cfg *config.Config) *Sender {
	return &Sender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		from:     cfg.SMTPFrom,
	}
}

// Enabled reports whether an SMTP host is configured.
func (s *Sender) Enabled() bool {
	return s.host != ""
}

// SendAccountLinked notifies the user that a new destination account was
// linked, so a hijacked session shows up quickly.
func (s *Sender) SendAccountLinked(to string, account *models.Account) error {
	subject := fmt.Sprintf("New %s account linked", account.Site)
	body := fmt.Sprintf(
		"The %s account %q was just linked to your profile.\r\n\r\nIf this wasn't you, change your password immediately.\r\n",
		account.Site, account.Username,
	)
	return s.send(to, subject, body)
}

func (s *Sender) send(to, subject, body string) error {
	if !s.Enabled() {
		log.Printf("Mail: SMTP not configured, skipping %q to %s", subject, to)
		return nil
	}

	msg := strings.NewReader(
		"From: " + s.from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Date: " + time.Now().Format(time.RFC1123Z) + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			body,
	)

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	addr := net.JoinHostPort(s.host, s.port)
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	return nil
}
