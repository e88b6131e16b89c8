package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingNotifier struct {
	sent []Alert
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, alert Alert) error {
	r.sent = append(r.sent, alert)
	return r.err
}

func TestMultiThreshold(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewMulti(AlertWarning, rec)

	ctx := context.Background()
	m.Send(ctx, Alert{Level: AlertInfo, Title: "ignored"})
	m.Send(ctx, Alert{Level: AlertWarning, Title: "kept"})
	m.Send(ctx, Alert{Level: AlertCritical, Title: "kept too"})

	if len(rec.sent) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(rec.sent))
	}
	if rec.sent[0].Title != "kept" || rec.sent[1].Title != "kept too" {
		t.Errorf("delivered = %+v", rec.sent)
	}
}

func TestMultiJoinsBackendErrors(t *testing.T) {
	bad := &recordingNotifier{err: errors.New("telegram down")}
	good := &recordingNotifier{}
	m := NewMulti(AlertInfo, bad, good)

	err := m.Send(context.Background(), Alert{Level: AlertCritical, Title: "halt"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(good.sent) != 1 {
		t.Error("healthy backend must still receive the alert")
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "Guardrail", Message: "halted"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "CRITICAL" || got["title"] != "Guardrail" || got["source"] != "sentinelsniper" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "x"}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestTelegramNotifierFormatsAndSilencesInfo(t *testing.T) {
	type sendReq struct {
		ChatID              string `json:"chat_id"`
		Text                string `json:"text"`
		ParseMode           string `json:"parse_mode"`
		DisableNotification bool   `json:"disable_notification"`
	}

	var got []sendReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req sendReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, req)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("123:abc", "42")
	n.apiBase = srv.URL

	ctx := context.Background()
	if err := n.Send(ctx, Alert{Level: AlertInfo, Title: "arb spread", Message: "net 0.64%"}); err != nil {
		t.Fatalf("send info: %v", err)
	}
	if err := n.Send(ctx, Alert{Level: AlertCritical, Title: "guardrail trip", Message: "pnl -5.00 breached limit"}); err != nil {
		t.Fatalf("send critical: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("received %d sends, want 2", len(got))
	}
	info, crit := got[0], got[1]
	if info.ChatID != "42" || info.ParseMode != "MarkdownV2" {
		t.Errorf("info request = %+v", info)
	}
	if !info.DisableNotification {
		t.Error("info alert should be delivered silently")
	}
	if crit.DisableNotification {
		t.Error("critical alert must not be silenced")
	}
	if !strings.Contains(crit.Text, "CRITICAL") || !strings.Contains(crit.Text, "guardrail trip") {
		t.Errorf("critical text = %q", crit.Text)
	}
	// MarkdownV2 reserved characters in the message must arrive escaped.
	if !strings.Contains(crit.Text, `\-5\.00`) {
		t.Errorf("message not escaped: %q", crit.Text)
	}
}

func TestTelegramNotifierSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("123:abc", "missing")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "venue down"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v, want Bot API description surfaced", err)
	}
}
