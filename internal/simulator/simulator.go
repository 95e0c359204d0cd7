// Package simulator answers the most recent RFP email as the configured test vendors, so the
// poll pipeline can be exercised end to end against a local Mailpit.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/correlation"
	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

var ErrNoRFPEmail = errors.New("no procurement rfp email found")

type Inbox interface {
	ListMessages(ctx context.Context) []mailbox.RawMessage
}

// Target is the RFP the simulated vendors answer.
type Target struct {
	ID    int64
	Tag   string
	Title string
}

type Report struct {
	Target     Target
	Recipients []string
	Sent       []string
	Skipped    []string
	Failed     []string
}

type Simulator struct {
	inbox       Inbox
	sender      mailbox.Sender
	procurement string
	vendors     []config.VendorSeed
}

func New(inbox Inbox, sender mailbox.Sender, procurement string, vendors []config.VendorSeed) *Simulator {
	return &Simulator{
		inbox:       inbox,
		sender:      sender,
		procurement: strings.ToLower(strings.TrimSpace(procurement)),
		vendors:     vendors,
	}
}

func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	messages := s.inbox.ListMessages(ctx)

	target, err := LatestRFP(messages, s.procurement)
	if err != nil {
		return nil, err
	}
	logger.Info("Latest rfp detected", zap.Int64("rfp_id", target.ID), zap.String("title", target.Title))

	report := &Report{Target: *target, Recipients: Recipients(messages, s.procurement, target.ID)}
	recipients := make(map[string]bool, len(report.Recipients))
	for _, r := range report.Recipients {
		recipients[r] = true
	}

	for _, v := range s.vendors {
		from := strings.ToLower(strings.TrimSpace(v.ContactEmail))
		if !recipients[from] {
			logger.Info("Skipping vendor, not a recipient", zap.String("vendor", v.Name), zap.String("email", from))
			report.Skipped = append(report.Skipped, v.Name)
			continue
		}

		err := s.sender.Send(ctx, mailbox.Email{
			From:    from,
			To:      s.procurement,
			Subject: fmt.Sprintf("Re: %s %s", target.Tag, target.Title),
			Body:    strings.ReplaceAll(v.Reply, "{{title}}", target.Title),
		})
		if err != nil {
			logger.Error("Failed to send vendor reply", zap.String("vendor", v.Name), zap.Error(err))
			report.Failed = append(report.Failed, v.Name)
			continue
		}

		logger.Info("Sent proposal", zap.String("vendor", v.Name))
		report.Sent = append(report.Sent, v.Name)
	}

	return report, nil
}

func fromProcurement(msg mailbox.RawMessage, procurement string) bool {
	return mailbox.SenderAddress(msg) == procurement
}

// LatestRFP picks the newest RFP email sent by the procurement mailbox. Only a tagged subject
// identifies an RFP.
func LatestRFP(messages []mailbox.RawMessage, procurement string) (*Target, error) {
	var candidates []mailbox.RawMessage
	for _, msg := range messages {
		subject := mailbox.SubjectLine(msg)
		if !fromProcurement(msg, procurement) {
			continue
		}
		if strings.Contains(subject, "New RFP:") || strings.Contains(subject, "- Submission Required") {
			candidates = append(candidates, msg)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRFPEmail
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return created(candidates[i]).After(created(candidates[j]))
	})

	subject := mailbox.SubjectLine(candidates[0])
	id, tagged := correlation.ParseTag(subject)
	if !tagged {
		return nil, fmt.Errorf("latest rfp email has no rfp tag: %q", subject)
	}

	tag := fmt.Sprintf("[RFP #%d]", id)
	title := correlation.StripTag(subject)
	title = strings.Replace(title, "New RFP:", "", 1)
	title = strings.Replace(title, "- Submission Required", "", 1)

	return &Target{ID: id, Tag: tag, Title: strings.TrimSpace(title)}, nil
}

// Recipients is the union of the To addresses of every procurement email tagged with rfpID.
func Recipients(messages []mailbox.RawMessage, procurement string, rfpID int64) []string {
	seen := map[string]bool{}
	var out []string
	for _, msg := range messages {
		if !fromProcurement(msg, procurement) {
			continue
		}
		if id, tagged := correlation.ParseTag(mailbox.SubjectLine(msg)); !tagged || id != rfpID {
			continue
		}
		for _, to := range msg.To {
			addr := strings.ToLower(strings.TrimSpace(to.Address))
			if addr != "" && !seen[addr] {
				seen[addr] = true
				out = append(out, addr)
			}
		}
	}
	return out
}

func created(msg mailbox.RawMessage) time.Time {
	t, err := time.Parse(time.RFC3339Nano, msg.Created)
	if err != nil {
		return time.Time{}
	}
	return t
}
