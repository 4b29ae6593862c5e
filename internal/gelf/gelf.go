package gelf

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"
)

// Writer sends GELF messages over UDP. It implements io.Writer and expects
// each Write to carry one zap JSON entry, which makes it usable as a
// zapcore.WriteSyncer.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

// Write implements io.Writer. Sending is fire-and-forget: a lost datagram
// never fails the log call.
func (w *Writer) Write(p []byte) (int, error) {
	payload, err := json.Marshal(w.Message(p, time.Now()))
	if err != nil {
		return len(p), nil
	}
	w.conn.Write(payload)
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer. UDP has nothing to flush.
func (w *Writer) Sync() error { return nil }

func (w *Writer) Close() error {
	return w.conn.Close()
}

// Message converts one encoded log line to a GELF 1.1 message. Lines that
// are not zap JSON are sent verbatim as informational messages.
func (w *Writer) Message(p []byte, now time.Time) map[string]any {
	msg := map[string]any{
		"version":   "1.1",
		"host":      w.hostname,
		"timestamp": float64(now.UnixNano()) / 1e9,
		"level":     6,
		"_service":  w.service,
	}

	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		msg["short_message"] = strings.TrimRight(string(p), "\n")
		return msg
	}

	short, _ := entry["msg"].(string)
	msg["short_message"] = short
	if lvl, ok := entry["level"].(string); ok {
		msg["level"] = syslogLevel(lvl)
	}
	if ts, ok := entry["ts"].(float64); ok {
		msg["timestamp"] = ts
	}
	if st, ok := entry["stacktrace"].(string); ok {
		msg["full_message"] = st
	}
	for k, v := range entry {
		switch k {
		case "msg", "level", "ts", "stacktrace":
			continue
		case "id":
			// _id is reserved by GELF
			k = "record_id"
		}
		msg["_"+k] = v
	}
	return msg
}

func syslogLevel(level string) int {
	switch level {
	case "debug":
		return 7
	case "info":
		return 6
	case "warn":
		return 4
	case "error":
		return 3
	default: // dpanic, panic, fatal
		return 2
	}
}
