package mailbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rfp-agent/backend/pkg/config"
)

func newMailpit(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.MailboxConfig{APIURL: srv.URL + "/", FetchFull: true, TimeoutSec: 2})
}

func TestListMessages(t *testing.T) {
	var fullFetches atomic.Int32
	c := newMailpit(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/messages":
			if r.URL.Query().Get("expand") != "1" {
				t.Errorf("expand not requested: %s", r.URL.RawQuery)
			}
			w.Write([]byte(`{"messages":[
				{"ID":"m1","From":{"Address":"vendor1@test.com"},"To":[{"Address":"procurement-system@test.com"}],"Subject":"Re: [RFP #1] Laptops","Text":"Price: $500"},
				{"ID":"m2","From":"not-an-object"},
				{"ID":"m3","Subject":"summary only","Snippet":"snip"}
			]}`))
		case "/api/v1/message/m3":
			fullFetches.Add(1)
			w.Write([]byte(`{"ID":"m3","Text":"full text body","HTML":"<p>full</p>"}`))
		default:
			http.NotFound(w, r)
		}
	})

	messages := c.ListMessages(context.Background())
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2 (undecodable one skipped)", len(messages))
	}
	if messages[0].Key() != "m1" || BodyText(messages[0]) != "Price: $500" {
		t.Errorf("first message = %+v", messages[0])
	}
	if BodyText(messages[1]) != "full text body" {
		t.Errorf("full fetch not merged: %q", BodyText(messages[1]))
	}
	if fullFetches.Load() != 1 {
		t.Errorf("full fetches = %d, want 1", fullFetches.Load())
	}
}

func TestListMessagesFailsSoft(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `oops`},
		{name: "not json", status: http.StatusOK, payload: `<html>`},
		{name: "messages not array", status: http.StatusOK, payload: `{"messages":{"a":1}}`},
		{name: "messages missing", status: http.StatusOK, payload: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMailpit(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.payload))
			})
			messages := c.ListMessages(context.Background())
			if messages == nil || len(messages) != 0 {
				t.Errorf("ListMessages = %v, want empty non-nil slice", messages)
			}
		})
	}
}

func TestListMessagesUnreachable(t *testing.T) {
	c := NewClient(config.MailboxConfig{APIURL: "http://127.0.0.1:1", TimeoutSec: 1})
	if got := c.ListMessages(context.Background()); len(got) != 0 {
		t.Errorf("ListMessages = %v, want empty", got)
	}
}

func TestFullFetchDisabled(t *testing.T) {
	c := newMailpit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		w.Write([]byte(`{"messages":[{"ID":"m3","Snippet":"snip"}]}`))
	})
	c.fetchFull = false

	messages := c.ListMessages(context.Background())
	if len(messages) != 1 || BodyText(messages[0]) != "snip" {
		t.Errorf("messages = %+v", messages)
	}
}
