package mailbox

import "encoding/json"

type Address struct {
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

// RawMessage is one inbox message as the mailbox service returns it. Only the fields the
// pipeline reads are typed; nested structures that vary between providers stay raw and are
// decoded leniently by the extraction functions.
type RawMessage struct {
	ID        string    `json:"ID"`
	MessageID string    `json:"MessageID"`
	From      *Address  `json:"From"`
	To        []Address `json:"To"`
	Subject   string    `json:"Subject"`
	Created   string    `json:"Created"`
	Snippet   string    `json:"Snippet"`
	Text      string    `json:"Text"`
	Body      string    `json:"Body"`
	HTML      string    `json:"HTML"`

	Mime      json.RawMessage `json:"Mime,omitempty"`
	Headers   json.RawMessage `json:"Headers,omitempty"`
	Addresses json.RawMessage `json:"addresses,omitempty"`
	// LowerSubject carries providers that send "subject" in lower case.
	LowerSubject string `json:"subject,omitempty"`
}

// Key identifies the message in the processed ledger.
func (m RawMessage) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.MessageID
}

func (m RawMessage) hasContent() bool {
	return m.Text != "" || m.Body != "" || m.HTML != "" || len(m.Mime) > 0
}

type mimePart struct {
	ContentType string          `json:"ContentType"`
	Body        string          `json:"Body"`
	Mime        *mimeContainer  `json:"Mime"`
	Parts       json.RawMessage `json:"Parts"`
}

type mimeContainer struct {
	Parts json.RawMessage `json:"Parts"`
}
