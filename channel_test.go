package duplex_test

import (
	"context"
	"testing"
	"time"

	"github.com/progrium/duplex"
	_ "github.com/progrium/duplex/codec/jsonmsg"
	"github.com/progrium/duplex/transport/inmem"
)

func TestRouteNBoundedIterations(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	server := duplex.NewRPC(codec)
	received := make(chan interface{}, 1)
	server.Register("note", func(ch *duplex.Channel) {
		payload, _, _ := ch.Recv()
		received <- payload
	})
	client := duplex.NewRPC(codec)

	connA, connB := inmem.NewPipe()
	var clientPeer *duplex.Peer
	handshakeDone := make(chan error, 1)
	go func() {
		var err error
		clientPeer, err = client.Handshake(connA, false)
		handshakeDone <- err
	}()
	serverPeer, err := server.Accept(connB, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := <-handshakeDone; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	defer clientPeer.Close()
	defer serverPeer.Close()

	go func() {
		ch := clientPeer.Open("note")
		ch.Send("hi", false)
	}()

	if err := serverPeer.RouteN(1); err != nil {
		t.Fatalf("RouteN: %v", err)
	}

	select {
	case payload := <-received:
		if payload != "hi" {
			t.Fatalf("expected %q, got %#v", "hi", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RouteN to dispatch the frame")
	}
}

func TestChannelOpenInheritsExt(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	server := duplex.NewRPC(codec)
	inheritedExt := make(chan interface{}, 1)
	server.Register("first", func(ch *duplex.Channel) {
		ch.Recv()
		child := ch.Open("second")
		inheritedExt <- child.Ext()
	})
	client := duplex.NewRPC(codec)

	connA, connB := inmem.NewPipe()
	var clientPeer *duplex.Peer
	handshakeDone := make(chan error, 1)
	go func() {
		var err error
		clientPeer, err = client.Handshake(connA, true)
		handshakeDone <- err
	}()
	serverPeer, err := server.Accept(connB, true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := <-handshakeDone; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	defer clientPeer.Close()
	defer serverPeer.Close()

	ch := clientPeer.Open("first")
	ch.SetExt("trace-id")
	if err := ch.Send(nil, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case ext := <-inheritedExt:
		if ext != "trace-id" {
			t.Fatalf("expected child channel to inherit ext %q, got %#v", "trace-id", ext)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server handler")
	}
}

func TestRecvContextCancellation(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	client := duplex.NewRPC(codec)
	server := duplex.NewRPC(codec)

	connA, connB := inmem.NewPipe()
	var clientPeer *duplex.Peer
	handshakeDone := make(chan error, 1)
	go func() {
		var err error
		clientPeer, err = client.Handshake(connA, true)
		handshakeDone <- err
	}()
	serverPeer, err := server.Accept(connB, true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := <-handshakeDone; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	defer clientPeer.Close()
	defer serverPeer.Close()

	ch := clientPeer.Open("never-replies")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = ch.RecvContext(ctx)
	if err == nil {
		t.Fatal("expected RecvContext to fail once its context is done")
	}
}

func TestSendErrOnlyValidOnReplyRole(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	client := duplex.NewRPC(codec)
	server := duplex.NewRPC(codec)

	connA, connB := inmem.NewPipe()
	var clientPeer *duplex.Peer
	handshakeDone := make(chan error, 1)
	go func() {
		var err error
		clientPeer, err = client.Handshake(connA, true)
		handshakeDone <- err
	}()
	serverPeer, err := server.Accept(connB, true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := <-handshakeDone; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	defer clientPeer.Close()
	defer serverPeer.Close()

	ch := clientPeer.Open("whatever")
	if err := ch.SendErr(1, "nope", nil); err == nil {
		t.Fatal("expected SendErr to fail on a request-role channel")
	}
}
