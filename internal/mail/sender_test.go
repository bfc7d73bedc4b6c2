package mail

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ameliade/crosspost/internal/config"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/testutil"
)

func TestSendAccountLinked(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	defer server.Close()

	host, port, err := net.SplitHostPort(server.Address)
	if err != nil {
		t.Fatalf("failed to split server address: %v", err)
	}

	sender := NewSender(&config.Config{
		SMTPHost: host,
		SMTPPort: port,
		SMTPUser: server.Username(),
		SMTPPass: server.Password(),
		SMTPFrom: "noreply@crosspost.example",
	})

	account := &models.Account{Site: models.SiteWeasyl, Username: "tester"}
	if err := sender.SendAccountLinked("user@example.com", account); err != nil {
		t.Fatalf("SendAccountLinked failed: %v", err)
	}

	// The server stores messages asynchronously after DATA completes.
	deadline := time.Now().Add(2 * time.Second)
	for len(server.GetMessages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	messages := server.GetMessages()
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.From != "noreply@crosspost.example" {
		t.Errorf("unexpected sender %q", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "user@example.com" {
		t.Errorf("unexpected recipients %v", msg.To)
	}

	body := string(msg.Data)
	if !strings.Contains(body, "Subject: New Weasyl account linked") {
		t.Errorf("Expected subject in message, got:\n%s", body)
	}
	if !strings.Contains(body, `"tester"`) {
		t.Errorf("Expected username in body, got:\n%s", body)
	}
}

func TestSenderDisabled(t *testing.T) {
	sender := NewSender(&config.Config{})

	if sender.Enabled() {
		t.Error("Expected sender disabled without an SMTP host")
	}

	account := &models.Account{Site: models.SiteWeasyl, Username: "tester"}
	if err := sender.SendAccountLinked("user@example.com", account); err != nil {
		t.Errorf("Expected disabled send to no-op, got %v", err)
	}
}
