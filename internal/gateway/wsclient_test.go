package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeBackend is a minimal WebSocket peer. respond decides the reply for each
// request frame; push lets a test inject events at any point.
type fakeBackend struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(f frame) *frame

	mu    sync.Mutex
	conn  *websocket.Conn
	auths []string
}

func newFakeBackend(t *testing.T, respond func(f frame) *frame) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, respond: respond}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		b.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if b.respond == nil {
				continue
			}
			if resp := b.respond(f); resp != nil {
				resp.ID = f.ID
				b.write(*resp)
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) addr() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) write(f frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.WriteJSON(f)
	}
}

func (b *fakeBackend) push(f frame) {
	// Wait for the upgrade to land before pushing unsolicited frames.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		ready := b.conn != nil
		b.mu.Unlock()
		if ready {
			b.write(f)
			return
		}
		if time.Now().After(deadline) {
			b.t.Fatal("backend connection never established")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func okPayload(t *testing.T, v any) *frame {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return &frame{OK: true, Payload: raw}
}

func TestWSClientCallRoundTrip(t *testing.T) {
	b := newFakeBackend(t, func(f frame) *frame {
		if f.Cmd == CmdHomeDir {
			return okPayload(t, map[string]string{"path": "/home/deploy"})
		}
		return &frame{OK: true}
	})
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	home, err := c.HomeDir(context.Background(), "api")
	if err != nil {
		t.Fatal(err)
	}
	if home != "/home/deploy" {
		t.Fatalf("home = %q", home)
	}
}

func TestWSClientBackendErrorSurfaces(t *testing.T) {
	b := newFakeBackend(t, func(f frame) *frame {
		return &frame{OK: false, Error: "host unreachable"}
	})
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = c.Connect(context.Background(), ConnectConfig{ConnectionID: "api"})
	if err == nil || !strings.Contains(err.Error(), "host unreachable") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestWSClientSendsBearerToken(t *testing.T) {
	b := newFakeBackend(t, nil)
	c, err := Dial(context.Background(), b.addr(), "sekrit")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.auths) != 1 || b.auths[0] != "Bearer sekrit" {
		t.Fatalf("authorization headers = %v", b.auths)
	}
}

func TestWSClientSessionDataPush(t *testing.T) {
	b := newFakeBackend(t, nil)
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got := make(chan []byte, 1)
	cancel := c.OnSessionData("s1", func(data []byte) { got <- data })
	defer cancel()

	b.push(frame{
		Event:     EvSessionData,
		SessionID: "s1",
		Data:      base64.StdEncoding.EncodeToString([]byte("prompt$ ")),
	})

	select {
	case data := <-got:
		if string(data) != "prompt$ " {
			t.Fatalf("data = %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session data never dispatched")
	}
}

func TestWSClientTransferAndStatusPush(t *testing.T) {
	b := newFakeBackend(t, nil)
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	transfers := make(chan TransferEvent, 1)
	statuses := make(chan StatusEvent, 1)
	c.OnTransferEvent(func(ev TransferEvent) { transfers <- ev })
	c.OnConnectionStatus(func(ev StatusEvent) { statuses <- ev })

	b.push(frame{Event: EvTransferProgress, TransferID: "t1", Transferred: 512, Total: 1024})
	b.push(frame{Event: EvConnectionStatus, ConnectionID: "api", Status: "disconnected", Error: "broken pipe"})

	select {
	case ev := <-transfers:
		if ev.TransferID != "t1" || ev.Transferred != 512 || ev.Total != 1024 {
			t.Fatalf("transfer event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transfer event never dispatched")
	}
	select {
	case ev := <-statuses:
		if ev.ConnectionID != "api" || ev.Error != "broken pipe" {
			t.Fatalf("status event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status event never dispatched")
	}
}

func TestWSClientCancelledHandlerStopsFiring(t *testing.T) {
	b := newFakeBackend(t, nil)
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got := make(chan []byte, 1)
	cancel := c.OnSessionData("s1", func(data []byte) { got <- data })
	cancel()

	b.push(frame{Event: EvSessionData, SessionID: "s1", Data: base64.StdEncoding.EncodeToString([]byte("x"))})

	select {
	case data := <-got:
		t.Fatalf("handler fired after cancel with %q", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWSClientWriteIsFireAndForget(t *testing.T) {
	writes := make(chan frame, 1)
	b := newFakeBackend(t, func(f frame) *frame {
		if f.Cmd == CmdWrite {
			writes <- f
		}
		return nil
	})
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Write("s1", []byte("ls\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-writes:
		if f.ID != "" {
			t.Fatalf("write frame carries correlation id %q", f.ID)
		}
		var payload struct {
			SessionID string `json:"session_id"`
			Data      string `json:"data"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		raw, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil || string(raw) != "ls\n" {
			t.Fatalf("write payload = %+v (%v)", payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write never reached the backend")
	}
}

func TestWSClientCloseFailsPendingCall(t *testing.T) {
	b := newFakeBackend(t, func(f frame) *frame {
		return nil // never answer
	})
	c, err := Dial(context.Background(), b.addr(), "")
	if err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := c.HomeDir(context.Background(), "api")
		errs <- err
	}()

	time.Sleep(100 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("pending call survived close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call never failed")
	}

	if err := c.Write("s1", []byte("x")); err == nil {
		t.Fatal("expected send on closed client to fail")
	}
}
