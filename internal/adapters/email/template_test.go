package email

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestRenderMarkdown_EscapesRawHTML verifies script tags do not survive rendering.
func TestRenderMarkdown_EscapesRawHTML(t *testing.T) {
	html, err := RenderMarkdown("hello <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("raw HTML leaked: %s", html)
	}
}

// TestRecoveryEmail_ContainsLink verifies both bodies carry the link.
func TestRecoveryEmail_ContainsLink(t *testing.T) {
	link := "https://app.test/auth/v1/verify?type=recovery&token=abc"
	req, err := RecoveryEmail("teacher@school.test", link, time.Hour)
	if err != nil {
		t.Fatalf("RecoveryEmail: %v", err)
	}
	if len(req.To) != 1 || req.To[0] != "teacher@school.test" {
		t.Errorf("to = %v", req.To)
	}
	if !strings.Contains(req.HTML, `href="https://app.test/auth/v1/verify?type=recovery&amp;token=abc"`) {
		t.Errorf("HTML missing link: %s", req.HTML)
	}
	if !strings.Contains(req.Text, link) {
		t.Errorf("text missing link: %s", req.Text)
	}
	if !strings.Contains(req.Text, "1 hour") {
		t.Errorf("text missing ttl: %s", req.Text)
	}
}

// TestHumanDuration verifies the wording used in emails.
func TestHumanDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{time.Hour, "1 hour"},
		{3 * time.Hour, "3 hours"},
		{30 * time.Minute, "30 minutes"},
		{90 * time.Minute, "90 minutes"},
		{10 * time.Second, "10s"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.d); got != tt.want {
			t.Errorf("humanDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

// TestNoopSender_RecordsRequests verifies sends are kept in order.
func TestNoopSender_RecordsRequests(t *testing.T) {
	s := NewNoopSender()
	for _, to := range []string{"a@school.test", "b@school.test"} {
		if _, err := s.Send(context.Background(), SendRequest{To: []string{to}, Subject: "hi"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	sent := s.Sent()
	if len(sent) != 2 || sent[1].To[0] != "b@school.test" {
		t.Errorf("unexpected sent %+v", sent)
	}
}
