package email

import (
	"strings"
	"testing"

	"github.com/ccjk/daemon/internal/task"
)

func TestFormatSubject_SuccessAndFailure(t *testing.T) {
	success := &task.Task{Command: "npm test", Result: &task.Result{ExitCode: 0}}
	if got := formatSubject(success); !strings.Contains(got, "✅") {
		t.Errorf("subject = %q, want a success icon", got)
	}

	failure := &task.Task{Command: "npm test", Result: &task.Result{ExitCode: 1}}
	if got := formatSubject(failure); !strings.Contains(got, "❌") {
		t.Errorf("subject = %q, want a failure icon", got)
	}
}

func TestFormatSubject_TruncatesLongCommand(t *testing.T) {
	long := strings.Repeat("x", 200)
	tsk := &task.Task{Command: long, Result: &task.Result{ExitCode: 0}}
	subject := formatSubject(tsk)
	if len(subject) > len(SubjectTag)+len("✅ ")+50 {
		t.Errorf("subject too long: %d chars", len(subject))
	}
}

func TestPlainBody_IncludesResultFields(t *testing.T) {
	tsk := &task.Task{
		State:   task.StateCompleted,
		Command: "echo hi",
		Result:  &task.Result{ExitCode: 0, DurationMs: 42, StdoutTail: "hi\n"},
	}
	body := plainBody(tsk)
	for _, want := range []string{"COMPLETED", "echo hi", "42ms", "hi"} {
		if !strings.Contains(body, want) {
			t.Errorf("plainBody missing %q:\n%s", want, body)
		}
	}
}

func TestHtmlBody_EscapesOutput(t *testing.T) {
	tsk := &task.Task{
		State:   task.StateFailed,
		Command: "echo <script>",
		Result:  &task.Result{ExitCode: 1, StdoutTail: "<b>bold</b>"},
	}
	html := htmlBody(tsk)
	if strings.Contains(html, "<script>") {
		t.Error("expected command to be HTML-escaped")
	}
	if !strings.Contains(html, "&lt;b&gt;bold&lt;/b&gt;") {
		t.Errorf("expected stdout to be HTML-escaped, got: %s", html)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}
	if got := truncate("this is long", 4); got != "this" {
		t.Errorf("truncate(long) = %q, want %q", got, "this")
	}
}
