// Package oxidbtest runs an in-process server speaking the OxiDB wire
// protocol for the commands the submission store uses.
package oxidbtest

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"
)

// Server is a fake oxidb-server backed by in-memory collections.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	docs    map[string][]map[string]any
	unique  map[string][]string
	failing map[string]string
	delays  map[string]time.Duration
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// NewServer starts a server on a loopback port and stops it when t ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("oxidbtest: listen: %v", err)
	}
	s := &Server{
		ln:      ln,
		docs:    make(map[string][]map[string]any),
		unique:  make(map[string][]string),
		failing: make(map[string]string),
		delays:  make(map[string]time.Duration),
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Fail makes every later cmd request answer with an error message.
func (s *Server) Fail(cmd, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[cmd] = msg
}

// Delay holds back every later reply to cmd by d. Zero removes the delay.
func (s *Server) Delay(cmd string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, cmd)
		return
	}
	s.delays[cmd] = d
}

// Docs returns a copy of the documents in collection.
func (s *Server) Docs(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.docs[collection]...)
}

// Close stops accepting, drops open connections and waits for their
// handlers to return.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		var req map[string]any
		resp := map[string]any{"ok": true}
		if err := json.Unmarshal(body, &req); err != nil {
			resp = map[string]any{"ok": false, "error": err.Error()}
		} else if data, err := s.exec(req); err != nil {
			resp = map[string]any{"ok": false, "error": err.Error()}
		} else {
			resp["data"] = data
		}
		cmd, _ := req["cmd"].(string)
		s.mu.Lock()
		delay := s.delays[cmd]
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		out, _ := json.Marshal(resp)
		frame := make([]byte, 4+len(out))
		binary.LittleEndian.PutUint32(frame, uint32(len(out)))
		copy(frame[4:], out)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func (s *Server) exec(req map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, _ := req["cmd"].(string)
	if msg, ok := s.failing[cmd]; ok {
		return nil, errors.New(msg)
	}
	coll, _ := req["collection"].(string)
	query, _ := req["query"].(map[string]any)

	switch cmd {
	case "ping":
		return "pong", nil
	case "create_unique_index":
		field, _ := req["field"].(string)
		s.unique[coll] = append(s.unique[coll], field)
		return "ok", nil
	case "insert":
		doc, _ := req["doc"].(map[string]any)
		for _, field := range s.unique[coll] {
			for _, d := range s.docs[coll] {
				if reflect.DeepEqual(d[field], doc[field]) {
					return nil, fmt.Errorf("duplicate key on unique index %q", field)
				}
			}
		}
		s.docs[coll] = append(s.docs[coll], doc)
		return map[string]any{"id": len(s.docs[coll])}, nil
	case "find_one":
		for _, d := range s.docs[coll] {
			if matches(d, query) {
				return d, nil
			}
		}
		return nil, nil
	case "update_one":
		update, _ := req["update"].(map[string]any)
		set, _ := update["$set"].(map[string]any)
		for _, d := range s.docs[coll] {
			if matches(d, query) {
				for k, v := range set {
					d[k] = v
				}
				return map[string]any{"modified": 1}, nil
			}
		}
		return map[string]any{"modified": 0}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func matches(doc, query map[string]any) bool {
	for k, v := range query {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}
