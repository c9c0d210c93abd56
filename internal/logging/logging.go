// Package logging owns the daemon's single log sink: one rotating,
// line-delimited JSON file that every component writes through via a
// buffered channel, so concurrent goroutines never tear a log line.
package logging

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotate at 10 MiB, keeping the last 5 files.
const (
	maxSizeMB  = 10
	maxBackups = 5
	queueDepth = 1024
)

// asyncWriter funnels every Write through a single draining goroutine, so
// concurrent slog calls from the poll, dispatch, heartbeat, and cloud-session
// goroutines never interleave partial JSON lines on the underlying file.
// Records that arrive faster than the drain loop can flush are dropped
// (with a line-count note on the next successful write) rather than
// blocking the caller — a stalled disk should never stall a task worker.
type asyncWriter struct {
	records chan []byte
	dropped chan struct{}
	out     []interface{ Write([]byte) (int, error) }
}

func newAsyncWriter(sinks ...interface{ Write([]byte) (int, error) }) *asyncWriter {
	w := &asyncWriter{
		records: make(chan []byte, queueDepth),
		dropped: make(chan struct{}, queueDepth),
		out:     sinks,
	}
	go w.drain()
	return w
}

func (w *asyncWriter) Write(p []byte) (int, error) {
	buf := append([]byte(nil), p...)
	select {
	case w.records <- buf:
	default:
		select {
		case w.dropped <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

func (w *asyncWriter) drain() {
	for rec := range w.records {
		var drops int
		for {
			select {
			case <-w.dropped:
				drops++
				continue
			default:
			}
			break
		}
		if drops > 0 {
			rec = append([]byte(nil), rec...)
			rec = append([]byte("{\"queue_overflow_dropped\":"+itoa(drops)+"}\n"), rec...)
		}
		for _, sink := range w.out {
			sink.Write(rec)
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Setup wires slog's default logger to write line-delimited JSON through a
// single async draining goroutine onto a lumberjack-rotated file and, when
// verbose, also echoes to stdout for interactive `daemon start` runs,
// splitting a human console stream from the durable log.
func Setup(logPath string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}

	var sinks []interface{ Write([]byte) (int, error) }
	sinks = append(sinks, rotator)
	if verbose {
		sinks = append(sinks, os.Stdout)
	}

	writer := newAsyncWriter(sinks...)
	slog.SetDefault(slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})))
	return nil
}
