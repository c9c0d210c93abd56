package email

import (
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/ccjk/daemon/internal/task"
)

// Sink sends one result email per terminal Task.
type Sink struct {
	host, user, pass, from string
	port                   int
}

// NewSink builds a Sink bound to the daemon's configured SMTP account.
func NewSink(smtpHost string, smtpPort int, user, pass, from string) *Sink {
	return &Sink{host: smtpHost, port: smtpPort, user: user, pass: pass, from: from}
}

// Send builds and delivers a multipart/alternative result email for t,
// making exactly one attempt. The caller is responsible for logging the
// content on failure so a delivery failure is never silently lost.
func (s *Sink) Send(t *task.Task) error {
	subject := formatSubject(t)

	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(t.Originator); err != nil {
		return fmt.Errorf("set to %q: %w", t.Originator, err)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextPlain, plainBody(t))
	m.AddAlternativeString(gomail.TypeTextHTML, htmlBody(t))

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.user),
		gomail.WithPassword(s.pass),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("new smtp client: %w", err)
	}
	if err := client.DialAndSend(m); err != nil {
		return fmt.Errorf("send result email: %w", err)
	}
	return nil
}

func formatSubject(t *task.Task) string {
	icon := "✅"
	if !taskSucceeded(t) {
		icon = "❌"
	}
	return SubjectTag + icon + " " + truncate(t.Command, 50)
}

func taskSucceeded(t *task.Task) bool {
	return t.Result != nil && t.Result.ExitCode == 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func plainBody(t *task.Task) string {
	r := t.Result
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", t.State)
	fmt.Fprintf(&b, "Exit Code: %d\n", r.ExitCode)
	fmt.Fprintf(&b, "Duration: %dms\n", r.DurationMs)
	fmt.Fprintf(&b, "Command: %s\n", t.Command)
	if r.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.ErrorMessage)
	}
	fmt.Fprintf(&b, "\nStdout:\n%s\n", r.StdoutTail)
	fmt.Fprintf(&b, "\nStderr:\n%s\n", r.StderrTail)
	return b.String()
}

func htmlBody(t *task.Task) string {
	r := t.Result
	color := "#2e7d32"
	if !taskSucceeded(t) {
		color = "#c62828"
	}
	return fmt.Sprintf(`<div style="font-family:monospace">
<h2 style="color:%s">%s</h2>
<p><b>Status:</b> %s<br>
<b>Exit Code:</b> %d<br>
<b>Duration:</b> %dms<br>
<b>Command:</b> %s</p>
<h3>Stdout</h3><pre>%s</pre>
<h3>Stderr</h3><pre>%s</pre>
</div>`, color, t.State, t.State, r.ExitCode, r.DurationMs, escapeHTML(t.Command), escapeHTML(r.StdoutTail), escapeHTML(r.StderrTail))
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
