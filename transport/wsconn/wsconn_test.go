package wsconn_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/progrium/duplex"
	"github.com/progrium/duplex/transport/wsconn"
)

func TestSendRecvOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverFrames := make(chan duplex.Frame, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		conn := wsconn.New(ws, 0)
		frame, err := conn.Recv()
		if err != nil {
			t.Errorf("server Recv: %v", err)
			return
		}
		serverFrames <- frame
		conn.Send(duplex.Frame("server-reply"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	client := wsconn.New(ws, 0)
	defer client.Close()

	if err := client.Send(duplex.Frame("client-hello")); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case got := <-serverFrames:
		if string(got) != "client-hello" {
			t.Fatalf("expected %q, got %q", "client-hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv: %v", err)
	}
	if string(reply) != "server-reply" {
		t.Fatalf("expected %q, got %q", "server-reply", reply)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wsconn.New(ws, 0)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	conn := wsconn.New(ws, 0)

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
