package textutil

import "testing"

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "json fence", in: "```json\n{\"price\":\"$500\"}\n```", want: `{"price":"$500"}`},
		{name: "bare fence", in: "```\n{}\n```", want: "{}"},
		{name: "no fence", in: "  {\"a\":1}  ", want: `{"a":1}`},
		{name: "inline fence", in: "```json{\"a\":1}```", want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
	if got := Ellipsize("abcdef", 3); got != "abc..." {
		t.Errorf("Ellipsize = %q", got)
	}
}

func TestCoerceString(t *testing.T) {
	tests := []struct {
		in     any
		want   string
		wantOK bool
	}{
		{in: " $500 ", want: "$500", wantOK: true},
		{in: float64(2450), want: "2450", wantOK: true},
		{in: 12.5, want: "12.5", wantOK: true},
		{in: true, want: "true", wantOK: true},
		{in: nil, want: "", wantOK: false},
		{in: map[string]any{"a": "b"}, want: `{"a":"b"}`, wantOK: true},
	}
	for _, tt := range tests {
		got, ok := CoerceString(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CoerceString(%v) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
