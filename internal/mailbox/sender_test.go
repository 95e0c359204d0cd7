package mailbox

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rfp-agent/backend/pkg/config"
)

type receivedMail struct {
	from string
	to   []string
	data string
}

// fakeSMTP accepts one session per connection and records what it receives.
func fakeSMTP(t *testing.T) (string, <-chan receivedMail) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	out := make(chan receivedMail, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, out)
		}
	}()
	return ln.Addr().String(), out
}

func serveSMTP(conn net.Conn, out chan<- receivedMail) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	var mail receivedMail

	tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			tp.PrintfLine("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			mail.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			mail.to = append(mail.to, strings.Trim(line[len("RCPT TO:"):], "<> "))
			tp.PrintfLine("250 OK")
		case cmd == "DATA":
			tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			mail.data = string(data)
			tp.PrintfLine("250 queued")
			out <- mail
		case cmd == "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 unsupported")
		}
	}
}

func TestSMTPSenderDelivers(t *testing.T) {
	addr, received := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	sender := NewSMTPSender(config.MailboxConfig{SMTPHost: host, SMTPPort: port, TimeoutSec: 2})
	err := sender.Send(context.Background(), Email{
		From:    "procurement-system@test.com",
		To:      "vendor1@test.com",
		Subject: "[RFP #7] Laptops - Submission Required",
		Body:    "Hello Alex,\nPlease reply.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case mail := <-received:
		if mail.from != "procurement-system@test.com" {
			t.Errorf("from = %q", mail.from)
		}
		if len(mail.to) != 1 || mail.to[0] != "vendor1@test.com" {
			t.Errorf("to = %v", mail.to)
		}
		headers, body, _ := strings.Cut(mail.data, "\n\n")
		if !strings.Contains(headers, "Subject: [RFP #7] Laptops - Submission Required") {
			t.Errorf("subject header missing:\n%s", headers)
		}
		if !strings.Contains(headers, "Message-ID: <") || !strings.Contains(headers, "@test.com>") {
			t.Errorf("message id header missing:\n%s", headers)
		}
		if !strings.HasPrefix(body, "Hello Alex,\nPlease reply.") {
			t.Errorf("body = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no mail received")
	}
}

func TestSMTPSenderUnreachable(t *testing.T) {
	sender := NewSMTPSender(config.MailboxConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, TimeoutSec: 1})
	if err := sender.Send(context.Background(), Email{From: "a@b.c", To: "d@e.f"}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestBuildMessageEncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage(Email{From: "a@b.c", To: "d@e.f", Subject: "Café chairs", Body: "x"}, time.Unix(0, 0)))
	if !strings.Contains(msg, "Subject: =?utf-8?q?") {
		t.Errorf("subject not encoded:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nx") {
		t.Errorf("unexpected message layout: %q", msg)
	}
	if _, err := textproto.NewReader(bufio.NewReader(strings.NewReader(msg))).ReadMIMEHeader(); err != nil {
		t.Errorf("headers do not parse: %v", err)
	}
}
