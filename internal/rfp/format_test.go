package rfp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatForEmail(t *testing.T) {
	doc := json.RawMessage(`{
		"title": "Office Chairs",
		"summary": "Ergonomic chairs for the new floor",
		"requirements": [{"item": "Chair", "quantity": 50, "specs": {"color": "black"}}, "Assembly included"],
		"budget": "",
		"delivery_terms": 0,
		"contacts": {"buyer": "Ana", "phone": null},
		"rush": true
	}`)

	got := FormatForEmail(doc, "Jane")
	want := strings.Join([]string{
		"Hello Jane,\n",
		"You have received a new Request for Proposal (RFP) from our procurement system.\n",
		"RFP Title: Office Chairs\n",
		emailRule,
		"Summary: Ergonomic chairs for the new floor",
		"Requirements:",
		`• item: Chair, quantity: 50, specs: {"color":"black"}`,
		"• Assembly included",
		"Budget: N/A",
		"Delivery terms: N/A",
		"Contacts:",
		"• buyer: Ana",
		"• phone: null",
		"Rush: true",
		emailRule,
		"\nPlease reply to this email in order to submit your proposal.\n(Your reply will appear inside Mailpit UI.)",
	}, "\n")

	if got != want {
		t.Errorf("FormatForEmail mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatForEmailKeepsKeyOrder(t *testing.T) {
	got := FormatForEmail(json.RawMessage(`{"zeta":"1","title":"T","alpha":"2","mid_point":"3"}`), "V")
	z, a, m := strings.Index(got, "Zeta: 1"), strings.Index(got, "Alpha: 2"), strings.Index(got, "Mid point: 3")
	if z < 0 || a < 0 || m < 0 || !(z < a && a < m) {
		t.Errorf("keys out of document order:\n%s", got)
	}
}

func TestFormatForEmailInvalidDocument(t *testing.T) {
	got := FormatForEmail(json.RawMessage(`not json`), "V")
	if !strings.HasPrefix(got, "Hello V,") || !strings.Contains(got, "RFP Title: \n") {
		t.Errorf("unexpected body for invalid document:\n%s", got)
	}
}
