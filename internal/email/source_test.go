package email

import (
	"strings"
	"testing"
)

func TestParseBody_CommandOnly(t *testing.T) {
	body := "npm run build\n"
	cmd, cwd, timeout, err := parseBody(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if cmd != "npm run build" {
		t.Errorf("command = %q, want %q", cmd, "npm run build")
	}
	if cwd != "" || timeout != 0 {
		t.Errorf("expected no directives, got cwd=%q timeout=%d", cwd, timeout)
	}
}

func TestParseBody_WithDirectives(t *testing.T) {
	body := "git status\ncwd: /srv/app\ntimeout: 120\n"
	cmd, cwd, timeout, err := parseBody(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if cmd != "git status" {
		t.Errorf("command = %q, want %q", cmd, "git status")
	}
	if cwd != "/srv/app" {
		t.Errorf("cwd = %q, want /srv/app", cwd)
	}
	if timeout != 120 {
		t.Errorf("timeout = %d, want 120", timeout)
	}
}

func TestParseBody_IgnoresBlankLeadingLines(t *testing.T) {
	body := "\n\n  \necho hi\n"
	cmd, _, _, err := parseBody(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if cmd != "echo hi" {
		t.Errorf("command = %q, want %q", cmd, "echo hi")
	}
}

func TestParseBody_EmptyBodyErrors(t *testing.T) {
	_, _, _, err := parseBody(strings.NewReader("   \n\n"))
	if err == nil {
		t.Fatal("expected error for a body with no command line")
	}
}

func TestParseBody_DirectiveCaseInsensitive(t *testing.T) {
	body := "pnpm test\nCWD: /tmp\nTIMEOUT: 30\n"
	cmd, cwd, timeout, err := parseBody(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	if cmd != "pnpm test" || cwd != "/tmp" || timeout != 30 {
		t.Errorf("got cmd=%q cwd=%q timeout=%d", cmd, cwd, timeout)
	}
}

func TestExtractText_BareSinglePartBody(t *testing.T) {
	data := []byte("just a plain line of text, no MIME headers at all\n")
	text, err := extractText(data)
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if strings.TrimSpace(text) != strings.TrimSpace(string(data)) {
		t.Errorf("text = %q, want %q", text, data)
	}
}

func TestExtractText_MultipartPrefersPlain(t *testing.T) {
	raw := "From: a@b.com\r\n" +
		"To: c@d.com\r\n" +
		"Subject: test\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body text\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html body text</p>\r\n" +
		"--XYZ--\r\n"

	text, err := extractText([]byte(raw))
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if !strings.Contains(text, "plain body text") {
		t.Errorf("text = %q, want to contain %q", text, "plain body text")
	}
}

func TestExtractText_FallsBackToStrippedHtml(t *testing.T) {
	raw := "From: a@b.com\r\n" +
		"To: c@d.com\r\n" +
		"Subject: test\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>only html here</p>\r\n" +
		"--XYZ--\r\n"

	text, err := extractText([]byte(raw))
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("text = %q, html tags should be stripped", text)
	}
	if !strings.Contains(text, "only html here") {
		t.Errorf("text = %q, want to contain %q", text, "only html here")
	}
}

func TestSenderAllowed_CaseInsensitive(t *testing.T) {
	s := NewSource("imap.example.com", 993, "daemon@example.com", "pw", []string{"Alice@Example.com"})
	if !s.senderAllowed("alice@example.com") {
		t.Error("expected case-insensitive sender match to pass")
	}
	if s.senderAllowed("bob@example.com") {
		t.Error("expected unlisted sender to fail")
	}
}
