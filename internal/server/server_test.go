package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/reflex/internal/app/counter"
	"github.com/louisbranch/reflex/internal/channel"
	"github.com/louisbranch/reflex/internal/channel/wschannel"
	"github.com/louisbranch/reflex/internal/client"
	"github.com/louisbranch/reflex/internal/dom"
	rferrors "github.com/louisbranch/reflex/internal/errors"
	"github.com/louisbranch/reflex/internal/protocol"
	"github.com/louisbranch/reflex/internal/reflex"
	"github.com/louisbranch/reflex/internal/render"
	"github.com/louisbranch/reflex/internal/session"
	"github.com/louisbranch/reflex/internal/session/token"
)

type testHost struct {
	srv    *httptest.Server
	store  *session.MemoryStore
	minter *token.Minter
}

func startHost(t *testing.T) *testHost {
	t.Helper()

	store := session.NewMemoryStore()
	registry := reflex.NewRegistry()
	counter.Register(registry)
	renderer := counter.Renderer()

	dispatcher, err := reflex.NewDispatcher(registry, store, renderer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	minter, err := token.NewMinter([]byte("test-key"), time.Hour)
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}

	srv := httptest.NewServer(NewHandler(dispatcher, renderer, store, minter))
	t.Cleanup(srv.Close)
	return &testHost{srv: srv, store: store, minter: minter}
}

func (h *testHost) wsURL() string {
	return strings.Replace(h.srv.URL, "http://", "ws://", 1) + "/ws"
}

func dialRaw(t *testing.T, h *testHost) *websocket.Conn {
	t.Helper()
	config, err := websocket.NewConfig(h.wsURL(), h.srv.URL)
	if err != nil {
		t.Fatalf("ws config: %v", err)
	}
	ws, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("dial raw: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func dialChannel(t *testing.T, h *testHost, cookie string) *wschannel.Conn {
	t.Helper()
	conn, err := wschannel.Dial(h.wsURL(), h.srv.URL, cookie)
	if err != nil {
		t.Fatalf("dial channel: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHealthEndpoint(t *testing.T) {
	host := startHost(t)

	resp, err := http.Get(host.srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServePageMintsSessionCookie(t *testing.T) {
	host := startHost(t)

	resp, err := http.Get(host.srv.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "Increment 0") {
		t.Fatalf("expected fresh counter page, got %s", body)
	}

	var sessionCookie *http.Cookie
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName {
			sessionCookie = cookie
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Fatal("expected HttpOnly cookie")
	}
	if _, err := host.minter.Verify(sessionCookie.Value); err != nil {
		t.Fatalf("expected verifiable token, got %v", err)
	}
}

func TestServePageReusesVerifiedSession(t *testing.T) {
	host := startHost(t)
	ctx := context.Background()

	if err := host.store.Set(ctx, "fixed-session", "count", []byte("41")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	signed, err := host.minter.Mint("fixed-session")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, host.srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signed})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "Increment 41") {
		t.Fatalf("expected session state in page, got %s", body)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName {
			t.Fatal("expected no new cookie for a valid session")
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	host := startHost(t)

	resp, err := http.Get(host.srv.URL + "/nope")
	if err != nil {
		t.Fatalf("get /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWSEndpointRequiresGet(t *testing.T) {
	host := startHost(t)

	resp, err := http.Post(host.srv.URL+"/ws", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post /ws: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

// TestEndToEndCounter drives the full loop: load the page, connect the
// channel with the session cookie, fire the bound event, and reconcile the
// live document against the response.
func TestEndToEndCounter(t *testing.T) {
	host := startHost(t)

	resp, err := http.Get(host.srv.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			cookie = c.Name + "=" + c.Value
		}
	}
	if cookie == "" {
		t.Fatal("expected session cookie")
	}

	doc, err := dom.Parse(string(body))
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	c := client.New(doc)
	c.Connect(dialChannel(t, host, cookie))

	if err := c.Bind("counter", "click->CounterReflex#increment", client.WithPreventDefault()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	anchor := doc.ElementByID("counter")
	dom.SetAttr(anchor, "data-count", "5")

	result, err := c.FireEvent("counter", "click")
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if !result.DefaultPrevented {
		t.Fatal("expected default prevented")
	}

	select {
	case update := <-c.Updates():
		if update.Stats.Total() == 0 {
			t.Fatal("expected the morph to mutate the document")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	if doc.ElementByID("counter") != anchor {
		t.Fatal("anchor was re-created instead of patched")
	}
	if got := dom.Text(anchor); got != "Increment 6" {
		t.Fatalf("expected Increment 6, got %q", got)
	}
	if got := dom.Attr(anchor, "data-count"); got != "6" {
		t.Fatalf("expected data-count=6, got %q", got)
	}

	// Firing again continues from the stored session value.
	if _, err := c.FireEvent("counter", "click"); err != nil {
		t.Fatalf("second fire: %v", err)
	}
	select {
	case <-c.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second update")
	}
	if got := dom.Text(anchor); got != "Increment 7" {
		t.Fatalf("expected Increment 7, got %q", got)
	}
}

func TestUnknownTargetReturnsErrorFrame(t *testing.T) {
	host := startHost(t)
	conn := dialChannel(t, host, "")

	frame := protocol.InvokeFrame("req-1", protocol.InvokePayload{Target: "Bogus#nope"})
	if err := conn.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if reply.Type != protocol.FrameError {
		t.Fatalf("expected error frame, got %s", reply.Type)
	}
	var payload protocol.ErrorPayload
	if err := protocol.DecodePayload(reply.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != rferrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", payload.Code)
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	host := startHost(t)
	conn := dialChannel(t, host, "")

	big := strings.Repeat("x", protocol.MaxFramePayloadBytes+1)
	frame := protocol.Frame{
		Type:      protocol.FrameInvoke,
		RequestID: "req-1",
		Payload:   protocol.MustJSON(map[string]string{"junk": big}),
	}
	if err := conn.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var payload protocol.ErrorPayload
	if err := protocol.DecodePayload(reply.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != rferrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", payload.Code)
	}
	if !strings.Contains(payload.Message, "too large") {
		t.Fatalf("expected size message, got %q", payload.Message)
	}
}

func TestUnsupportedFrameType(t *testing.T) {
	host := startHost(t)
	conn := dialChannel(t, host, "")

	frame := protocol.Frame{Type: "reflex.bogus", RequestID: "req-1", Payload: protocol.MustJSON(map[string]string{})}
	if err := conn.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var payload protocol.ErrorPayload
	if err := protocol.DecodePayload(reply.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != rferrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", payload.Code)
	}
}

func TestRateLimitClosesConnection(t *testing.T) {
	host := startHost(t)
	conn := dialChannel(t, host, "")

	// One more frame than the per-second budget.
	for i := 0; i <= protocol.MaxFramesPerSecond; i++ {
		frame := protocol.InvokeFrame("req", protocol.InvokePayload{Target: "CounterReflex#increment"})
		if err := conn.Send(frame); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	sawExhausted := false
	for {
		reply, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, channel.ErrClosed) {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
			break
		}
		if reply.Type != protocol.FrameError {
			continue
		}
		var payload protocol.ErrorPayload
		if err := protocol.DecodePayload(reply.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Code == rferrors.CodeResourceExhausted {
			sawExhausted = true
			if !payload.Retryable {
				t.Fatal("expected rate limit to be retryable")
			}
		}
	}
	if !sawExhausted {
		t.Fatal("expected RESOURCE_EXHAUSTED before close")
	}
}

func TestDecodeErrorBudgetClosesConnection(t *testing.T) {
	host := startHost(t)

	// Raw garbage on the wire burns the decode budget and ends the
	// connection.
	rawConn := dialRaw(t, host)
	if _, err := rawConn.Write([]byte("this is not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	raw := wschannel.New(rawConn)
	errFrames := 0
	for {
		reply, err := raw.Receive()
		if err != nil {
			break
		}
		if reply.Type != protocol.FrameError {
			t.Fatalf("expected error frames, got %s", reply.Type)
		}
		var payload protocol.ErrorPayload
		if err := protocol.DecodePayload(reply.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Code != rferrors.CodeInvalidArgument {
			t.Fatalf("expected INVALID_ARGUMENT, got %s", payload.Code)
		}
		errFrames++
		if errFrames > protocol.MaxDecodeErrorsPerConn {
			t.Fatalf("expected at most %d error frames", protocol.MaxDecodeErrorsPerConn)
		}
	}
	if errFrames == 0 {
		t.Fatal("expected at least one decode error frame")
	}
}

func TestNewServerValidation(t *testing.T) {
	store := session.NewMemoryStore()
	registry := reflex.NewRegistry()
	dispatcher, err := reflex.NewDispatcher(registry, store, render.Static("<p>x</p>"))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if _, err := NewServer(Config{SessionTokenKey: []byte("k")}, dispatcher, render.Static("<p>x</p>"), store); err == nil {
		t.Fatal("expected error for missing address")
	}
	if _, err := NewServer(Config{HTTPAddr: ":0"}, dispatcher, render.Static("<p>x</p>"), store); err == nil {
		t.Fatal("expected error for missing token key")
	}
	srv, err := NewServer(Config{HTTPAddr: ":0", SessionTokenKey: []byte("k")}, dispatcher, render.Static("<p>x</p>"), store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv == nil {
		t.Fatal("expected server")
	}
}
