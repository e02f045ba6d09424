package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kaka.lopezb.com/internal/kaka/engine"
)

type testServer struct {
	app    *application
	cancel context.CancelFunc
	done   chan error
}

// newTestServer starts a server on a random port. cfg.Capacity and
// cfg.FalsePositiveRate default to small values when zero.
func newTestServer(t *testing.T, cfg engine.Config, maxConnections int) *testServer {
	t.Helper()
	if cfg.Capacity == 0 {
		cfg.Capacity = 10_000
	}
	if cfg.FalsePositiveRate == 0 {
		cfg.FalsePositiveRate = 0.001
	}
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	app := newApplication(serverConfig{
		addr:            "127.0.0.1:0",
		maxConnections:  maxConnections,
		shutdownTimeout: time.Second,
		snapshotPath:    filepath.Join(t.TempDir(), "kaka.snap"),
	}, e, zerolog.Nop(), NewMetrics())
	app.readyCh = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{app: app, cancel: cancel, done: make(chan error, 1)}
	go func() { ts.done <- app.serve(ctx) }()
	<-app.readyCh

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", ts.app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func encodeCommand(args ...string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(a), a)
	}
	return []byte(sb.String())
}

// readReply reads one RESP reply. Simple strings, errors and integers come
// back with their type prefix ("+OK", "-ERR ...", ":1"); bulk strings come back
// bare; arrays come back as their elements joined with spaces.
func readReply(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty reply line")
	}
	switch line[0] {
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil || n < 0 {
			return "(nil)", err
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		parts := make([]string, n)
		for i := range parts {
			if parts[i], err = readReply(r); err != nil {
				return "", err
			}
		}
		return strings.Join(parts, " "), nil
	}
	return line, nil
}

func sendCommand(t *testing.T, conn net.Conn, r *bufio.Reader, args ...string) string {
	t.Helper()
	if _, err := conn.Write(encodeCommand(args...)); err != nil {
		t.Fatalf("write %v: %v", args, err)
	}
	resp, err := readReply(r)
	if err != nil {
		t.Fatalf("read reply to %v: %v", args, err)
	}
	return resp
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		t.Fatalf("failed to write PING: %v", err)
	}
	resp, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp != "+PONG\r\n" {
		t.Errorf("unexpected response: got %q, want %q", resp, "+PONG\r\n")
	}

	if got := sendCommand(t, conn, r, "PING", "extra"); !strings.HasPrefix(got, "-ERR wrong number of arguments") {
		t.Errorf("PING extra = %q", got)
	}
	if got := sendCommand(t, conn, r, "NOPE"); got != "-ERR unknown command 'NOPE'" {
		t.Errorf("unknown command = %q", got)
	}
}

func TestURLCommands(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"URL.EXISTS", "https://example.com/a"}, ":0"},
		{[]string{"URL.ADD", "https://example.com/a"}, ":1"},
		{[]string{"URL.ADD", "HTTPS://www.Example.com/a/?utm_source=x#top"}, ":0"},
		{[]string{"url.exists", "https://example.com/a"}, ":1"},
		{[]string{"URL.NORMALIZE", "HTTP://WWW.Example.COM:80/x/../y/?b=2&a=1"}, "http://example.com/y?a=1&b=2"},
		{[]string{"URL.MADD", "https://example.com/a", "https://example.com/b", "not a url"}, ":0 :1 :-1"},
		{[]string{"URL.MEXISTS", "https://example.com/b", "https://example.com/c", "::"}, ":1 :0 :-1"},
		{[]string{"URL.ADD"}, "-ERR wrong number of arguments for 'URL.ADD' command"},
	}
	for _, tt := range tests {
		if got := sendCommand(t, conn, r, tt.args...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}

	if got := sendCommand(t, conn, r, "URL.ADD", "example.com/no-scheme"); !strings.HasPrefix(got, "-BADURL ") {
		t.Errorf("bad url reply = %q, want BADURL prefix", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", "some content"); !strings.HasPrefix(got, "-CONFIG ") {
		t.Errorf("SIM.QUERY without simhash = %q, want CONFIG prefix", got)
	}
}

const (
	article   = "the quick brown fox jumps over the lazy dog while the farmer watches from the porch and the sun sets slowly behind the hills of the valley"
	unrelated = "quarterly revenue grew in every region as the company expanded its cloud offering and reduced operating costs across all divisions"
)

func TestSimCommands(t *testing.T) {
	ts := newTestServer(t, engine.Config{
		SimHashEnabled:   true,
		FingerprintWidth: 128,
		Bands:            8,
	}, 10)
	conn, r := ts.dial(t)

	if got := sendCommand(t, conn, r, "URL.ADD", "https://example.com/a"); !strings.HasPrefix(got, "-CONFIG ") {
		t.Errorf("URL.ADD without content = %q, want CONFIG prefix", got)
	}
	if got := sendCommand(t, conn, r, "URL.ADD", "https://example.com/a", article); got != ":1" {
		t.Errorf("URL.ADD with content = %q", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", article); got != ":1" {
		t.Errorf("SIM.QUERY same content = %q", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", article, "0.9"); got != ":1" {
		t.Errorf("SIM.QUERY with threshold = %q", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", article, "1.5"); !strings.HasPrefix(got, "-CONFIG ") {
		t.Errorf("SIM.QUERY out of range threshold = %q", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", article, "abc"); got != "-ERR threshold is not a valid float" {
		t.Errorf("SIM.QUERY bad threshold = %q", got)
	}
	if got := sendCommand(t, conn, r, "URL.MADD", "https://example.com/a", "https://example.com/b"); got != ":0 :1" {
		t.Errorf("URL.MADD with simhash = %q", got)
	}

	if got := sendCommand(t, conn, r, "SIM.ADD", "doc-1", unrelated); got != "+OK" {
		t.Errorf("SIM.ADD = %q", got)
	}
	if got := sendCommand(t, conn, r, "SIM.QUERY", unrelated); got != ":1" {
		t.Errorf("SIM.QUERY after SIM.ADD = %q", got)
	}

	if got := sendCommand(t, conn, r, "SIM.DIST", article, article); got != "1.0000" {
		t.Errorf("SIM.DIST identical = %q", got)
	}
	got := sendCommand(t, conn, r, "SIM.DIST", article, unrelated)
	d, err := strconv.ParseFloat(got, 64)
	if err != nil || d < 0 || d > 0.8 {
		t.Errorf("SIM.DIST unrelated = %q", got)
	}
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	sendCommand(t, conn, r, "URL.ADD", "https://example.com/a")
	sendCommand(t, conn, r, "URL.ADD", "https://example.com/a")

	info := sendCommand(t, conn, r, "INFO")
	for _, want := range []string{
		"# Server\r\n",
		"connections_active:1\r\n",
		"commands_processed_total:3\r\n",
		"# Engine\r\n",
		"urls_inserted:1\r\n",
		"duplicates_found:1\r\n",
		"simhash_enabled:0\r\n",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("INFO missing %q:\n%s", want, info)
		}
	}
}

func TestPipelining(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	var batch []byte
	for i := 0; i < 50; i++ {
		batch = append(batch, encodeCommand("URL.ADD", fmt.Sprintf("https://example.com/%d", i%25))...)
	}
	if _, err := conn.Write(batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := readReply(r)
		if err != nil {
			t.Fatalf("reply %d: %v", i, err)
		}
		want := ":1"
		if i >= 25 {
			want = ":0"
		}
		if got != want {
			t.Errorf("reply %d = %q, want %q", i, got, want)
		}
	}
}

func TestConnectionLimiter(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 1)
	hog, hr := ts.dial(t)
	if got := sendCommand(t, hog, hr, "PING"); got != "+PONG" {
		t.Fatalf("first connection PING = %q", got)
	}

	_, r := ts.dial(t)
	resp, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read from second connection: %v", err)
	}
	if resp != errMaxConnectionsResponse {
		t.Errorf("unexpected response from rejected connection: got %q, want %q", resp, errMaxConnectionsResponse)
	}
	if n := ts.app.metrics.Rejected.Load(); n != 1 {
		t.Errorf("rejected = %d, want 1", n)
	}
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	if _, err := conn.Write([]byte("*1\r\n$999999999999\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readReply(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "-"+ErrBulkTooLarge.Error() {
		t.Errorf("reply = %q", got)
	}
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("connection still open after protocol error")
	}
}

func TestSaveAndRestore(t *testing.T) {
	ts := newTestServer(t, engine.Config{}, 10)
	conn, r := ts.dial(t)

	for i := 0; i < 100; i++ {
		sendCommand(t, conn, r, "URL.ADD", fmt.Sprintf("https://example.com/page/%d", i))
	}
	if got := sendCommand(t, conn, r, "SAVE"); got != "+Background saving started" {
		t.Fatalf("SAVE = %q", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for ts.app.metrics.SavesOK.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background save did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	restored, err := engine.New(ts.app.engine.Config())
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := loadSnapshotFile(restored, ts.app.config.snapshotPath)
	if err != nil || !loaded {
		t.Fatalf("loadSnapshotFile = %v, %v", loaded, err)
	}
	for i := 0; i < 100; i++ {
		if ok, _ := restored.Contains(fmt.Sprintf("https://example.com/page/%d", i)); !ok {
			t.Fatalf("page %d missing after restore", i)
		}
	}
}

func TestLoadSnapshotFileMissing(t *testing.T) {
	e, err := engine.New(engine.Config{Capacity: 10, FalsePositiveRate: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := loadSnapshotFile(e, filepath.Join(t.TempDir(), "absent.snap"))
	if err != nil || loaded {
		t.Errorf("loadSnapshotFile(absent) = %v, %v; want false, nil", loaded, err)
	}
}
