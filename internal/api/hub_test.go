package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_Send(t *testing.T) {
	h := NewHub()

	assert.False(t, h.Send("ghost", []byte("x")), "absent user drops")

	c := &conn{userID: "alice", send: make(chan []byte, 1)}
	h.add(c)

	assert.True(t, h.Send("alice", []byte("one")))
	assert.False(t, h.Send("alice", []byte("two")), "full buffer drops instead of blocking")

	h.removeIfSame(c)
	assert.False(t, h.Send("alice", []byte("three")))

	b, ok := <-c.send
	assert.True(t, ok)
	assert.Equal(t, "one", string(b))
	_, ok = <-c.send
	assert.False(t, ok, "removal closes the send channel so the write pump ends")
}

func TestHub_ReconnectKeepsTheNewestConnection(t *testing.T) {
	h := NewHub()

	c1 := &conn{userID: "alice", send: make(chan []byte, 1)}
	c2 := &conn{userID: "alice", send: make(chan []byte, 1)}

	h.add(c1)
	h.add(c2)

	_, ok := <-c1.send
	assert.False(t, ok, "the replaced connection's send channel is closed")

	// the replaced read loop finishing must not evict its replacement
	h.removeIfSame(c1)

	assert.True(t, h.Send("alice", []byte("hello")))
	select {
	case b := <-c2.send:
		assert.Equal(t, "hello", string(b))
	default:
		t.Fatal("message did not reach the replacement connection")
	}
}
