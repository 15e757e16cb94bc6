package realtime

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestHub_Register(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register("session-1", conn)

	if active := hub.Active("session-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register("session-1", conn)
	hub.Unregister("session-1", conn)

	if active := hub.Active("session-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestHub_UnregisterStale(t *testing.T) {
	hub := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("session-1", conn1)
	hub.Register("session-2", conn2)

	// Unregistering one session leaves the other alone.
	hub.Unregister("session-1", conn1)
	// A connection that is no longer current cannot evict its successor.
	hub.Unregister("session-2", conn1)

	if active := hub.Active("session-2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			hub.Register("session-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			hub.Active("session-" + strconv.Itoa(i))
		}
	}()
	wg.Wait()

	if hub.Len() != 1000 {
		t.Fatalf("hub tracks %d sessions, want 1000", hub.Len())
	}
}
