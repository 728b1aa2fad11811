package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

// publishOnlyRedis answers PUBLISH but refuses SUBSCRIBE, so a backplane
// can publish while never holding a subscription.
func publishOnlyRedis(t *testing.T) (*redis.Client, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var published atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveRESP(conn, &published)
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client, &published
}

func serveRESP(conn net.Conn, published *atomic.Int32) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PUBLISH":
			published.Add(1)
			reply = ":0\r\n"
		case "HELLO", "SUBSCRIBE":
			reply = "-ERR unsupported\r\n"
		default:
			reply = "+OK\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestBackplaneDispatchRoutesToNamedHub(t *testing.T) {
	diners := New("diner", 20)
	admins := New("admin", 20)
	dinerConn, adminConn := &fakeConn{}, &fakeConn{}
	_, _ = diners.Connect(dinerConn, "s-1", "")
	_, _ = admins.Connect(adminConn, "s-1", "")

	b := NewRedisBackplane(nil, "topic", diners, admins)
	raw, err := json.Marshal(envelope{Hub: "diner", Channel: "s-1", Payload: json.RawMessage(`{"type":"cart_update","data":null}`)})
	require.NoError(t, err)

	b.dispatch(raw)

	assert.Equal(t, 1, dinerConn.received())
	assert.Equal(t, 0, adminConn.received())
}

func TestBackplaneDispatchClose(t *testing.T) {
	diners := New("diner", 20)
	conn := &fakeConn{}
	_, _ = diners.Connect(conn, "s-1", "")

	b := NewRedisBackplane(nil, "topic", diners)
	b.dispatch([]byte(`{"hub":"diner","channel":"s-1","close_code":4410,"reason":"closed"}`))
	b.dispatch([]byte(`not json`))

	assert.True(t, conn.isClosed())
}

func TestBackplaneFallsBackToLocalDelivery(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()

	diners := New("diner", 20)
	conn := &fakeConn{}
	_, _ = diners.Connect(conn, "s-1", "")

	pub := NewRedisBackplane(client, "topic", diners).For(diners)
	pub.Broadcast("s-1", Message{Event: EventCartUpdate})

	assert.Equal(t, 1, conn.received())
}

func TestBackplaneRunRetriesUntilCancelled(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()

	b := NewRedisBackplane(client, "topic", New("diner", 20))
	b.MinBackoff = 10 * time.Millisecond
	b.MaxBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run gave up while the context was live: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
	assert.False(t, b.Subscribed())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBackplaneDeliversLocallyWhileUnsubscribed(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()

	diners := New("diner", 20)
	conn, other := &fakeConn{}, &fakeConn{}
	_, _ = diners.Connect(conn, "s-1", "")
	_, _ = diners.Connect(other, "s-2", "")

	b := NewRedisBackplane(client, "topic", diners)
	require.False(t, b.Subscribed())
	pub := b.For(diners)

	pub.Broadcast("s-1", Message{Event: EventCartUpdate})
	assert.Equal(t, 1, conn.received(), "delivered once, not once per fallback path")

	pub.CloseChannel("s-2", CloseSessionClosed, "closed")
	assert.True(t, other.isClosed())
	assert.False(t, conn.isClosed())
}

func TestBackplaneServesLocalSocketsWhenPublishSucceedsUnsubscribed(t *testing.T) {
	client, published := publishOnlyRedis(t)

	diners := New("diner", 20)
	conn := &fakeConn{}
	_, _ = diners.Connect(conn, "s-1", "")

	b := NewRedisBackplane(client, "topic", diners)
	b.For(diners).Broadcast("s-1", Message{Event: EventCartUpdate})

	assert.Equal(t, int32(1), published.Load())
	assert.Equal(t, 1, conn.received())
}
