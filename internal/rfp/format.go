package rfp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const emailRule = "--------------------------------------------------"

// field keeps object members in document order; a map would lose the order the model wrote.
type field struct {
	key   string
	value any
}

// FormatForEmail renders an RFP document as the plain-text body sent to a vendor. Keys appear in
// the order of the document, arrays and objects become bullets, empty scalars read "N/A".
func FormatForEmail(doc json.RawMessage, recipient string) string {
	fields, _ := decodeObject(doc)

	title := ""
	for _, f := range fields {
		if f.key == "title" {
			title = scalarText(f.value)
		}
	}

	lines := []string{
		fmt.Sprintf("Hello %s,\n", recipient),
		"You have received a new Request for Proposal (RFP) from our procurement system.\n",
		fmt.Sprintf("RFP Title: %s\n", title),
		emailRule,
	}

	for _, f := range fields {
		if f.key == "title" {
			continue
		}
		switch v := f.value.(type) {
		case []any:
			lines = append(lines, capitalize(f.key)+":")
			for _, item := range v {
				if obj, ok := item.([]field); ok {
					pairs := make([]string, 0, len(obj))
					for _, kv := range obj {
						pairs = append(pairs, kv.key+": "+scalarText(kv.value))
					}
					lines = append(lines, "• "+strings.Join(pairs, ", "))
					continue
				}
				lines = append(lines, "• "+scalarText(item))
			}
		case []field:
			lines = append(lines, capitalize(f.key)+":")
			for _, kv := range v {
				lines = append(lines, "• "+kv.key+": "+scalarText(kv.value))
			}
		default:
			text := scalarText(v)
			if isEmpty(v) {
				text = "N/A"
			}
			lines = append(lines, capitalize(f.key)+": "+text)
		}
	}

	lines = append(lines, emailRule)
	lines = append(lines, "\nPlease reply to this email in order to submit your proposal.\n(Your reply will appear inside Mailpit UI.)")

	return strings.Join(lines, "\n")
}

func capitalize(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + strings.ReplaceAll(key[1:], "_", " ")
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		var b strings.Builder
		writeCompact(&b, val)
		return b.String()
	}
}

func writeCompact(b *strings.Builder, v any) {
	switch val := v.(type) {
	case []field:
		b.WriteByte('{')
		for i, kv := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(kv.key)
			b.Write(key)
			b.WriteByte(':')
			writeCompact(b, kv.value)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCompact(b, item)
		}
		b.WriteByte(']')
	case string:
		quoted, _ := json.Marshal(val)
		b.Write(quoted)
	default:
		b.WriteString(scalarText(val))
	}
}

func decodeObject(doc json.RawMessage) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	obj, ok := v.([]field)
	if !ok {
		return nil, fmt.Errorf("rfp document is not an object")
	}
	return obj, nil
}

// decodeValue reads one value from dec. Objects come back as []field, arrays as []any.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := []field{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, field{key: key, value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}
