package mailbox

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rfp-agent/backend/pkg/textutil"
)

const (
	UnknownSender  = "unknown"
	DefaultSubject = "(no subject)"

	// maxPartDepth bounds recursion on hostile or cyclic-looking part trees.
	maxPartDepth = 32
)

var angleAddress = regexp.MustCompile(`<([^>]+)>`)

// SenderAddress returns the lower-cased sender address, or "unknown".
func SenderAddress(msg RawMessage) string {
	if msg.From != nil && strings.TrimSpace(msg.From.Address) != "" {
		return normalizeAddress(msg.From.Address)
	}

	if addr := firstFromAddress(msg.Addresses); addr != "" {
		return normalizeAddress(addr)
	}

	if raw := headerFirst(msg.Headers, "From"); raw != "" {
		if m := angleAddress.FindStringSubmatch(raw); m != nil {
			return normalizeAddress(m[1])
		}
		return normalizeAddress(raw)
	}

	return UnknownSender
}

// SubjectLine returns the trimmed subject, or "(no subject)".
func SubjectLine(msg RawMessage) string {
	for _, candidate := range []string{msg.Subject, msg.LowerSubject, headerFirst(msg.Headers, "Subject")} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return DefaultSubject
}

// BodyText returns the best available plain-text body of msg, or "".
func BodyText(msg RawMessage) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Body != "" {
		return msg.Body
	}

	if len(msg.Mime) > 0 {
		var container mimeContainer
		if err := json.Unmarshal(msg.Mime, &container); err == nil {
			if text := findPart(container.Parts, "text/plain", 0); text != "" {
				return text
			}
			if html := findPart(container.Parts, "text/html", 0); html != "" {
				return StripHTML(html)
			}
		}
	}

	if msg.HTML != "" {
		if text := StripHTML(msg.HTML); text != "" {
			return text
		}
	}

	return msg.Snippet
}

// AddressedTo reports whether any To recipient is mailbox.
func AddressedTo(msg RawMessage, mailbox string) bool {
	for _, to := range msg.To {
		if strings.EqualFold(strings.TrimSpace(to.Address), strings.TrimSpace(mailbox)) {
			return true
		}
	}
	return false
}

// findPart walks the part tree depth-first and returns the body of the first part whose
// content type contains contentType. Malformed lists and parts are skipped.
func findPart(raw json.RawMessage, contentType string, depth int) string {
	if len(raw) == 0 || depth > maxPartDepth {
		return ""
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	for _, rawPart := range parts {
		var part mimePart
		if err := json.Unmarshal(rawPart, &part); err != nil {
			continue
		}

		if strings.Contains(strings.ToLower(part.ContentType), contentType) && part.Body != "" {
			return part.Body
		}
		if part.Mime != nil {
			if found := findPart(part.Mime.Parts, contentType, depth+1); found != "" {
				return found
			}
		}
		if found := findPart(part.Parts, contentType, depth+1); found != "" {
			return found
		}
	}
	return ""
}

func firstFromAddress(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var addresses struct {
		From []struct {
			Address string `json:"address"`
		} `json:"from"`
	}
	if err := json.Unmarshal(raw, &addresses); err != nil || len(addresses.From) == 0 {
		return ""
	}
	return strings.TrimSpace(addresses.From[0].Address)
}

// headerFirst returns the first value of a header that may be encoded as a list or a scalar.
func headerFirst(raw json.RawMessage, name string) string {
	if len(raw) == 0 {
		return ""
	}
	var headers map[string]json.RawMessage
	if err := json.Unmarshal(raw, &headers); err != nil {
		return ""
	}
	value, ok := headers[name]
	if !ok {
		return ""
	}

	var list []any
	if err := json.Unmarshal(value, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		s, _ := textutil.CoerceString(list[0])
		return s
	}

	var scalar any
	if err := json.Unmarshal(value, &scalar); err != nil {
		return ""
	}
	s, _ := textutil.CoerceString(scalar)
	return s
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
