package services_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/services"
)

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestAMQPPublishHonoursContextDeadline(t *testing.T) {
	publisher := services.NewAMQPPublisher(silentBroker(t), "orders")
	publisher.DialTimeout = 10 * time.Second
	t.Cleanup(func() { _ = publisher.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := publisher.Publish(ctx, services.OrderEvent{Type: services.OrderEventSubmitted, OrderID: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)

	started = time.Now()
	err = publisher.Publish(context.Background(), services.OrderEvent{Type: services.OrderEventSubmitted, OrderID: 2})
	assert.ErrorIs(t, err, services.ErrBrokerUnavailable)
	assert.Less(t, time.Since(started), 100*time.Millisecond)
}

func TestAMQPPublishWaiterGivesUpWithItsContext(t *testing.T) {
	publisher := services.NewAMQPPublisher(silentBroker(t), "orders")
	publisher.DialTimeout = 2 * time.Second
	t.Cleanup(func() { _ = publisher.Close() })

	first := make(chan error, 1)
	go func() {
		first <- publisher.Publish(context.Background(), services.OrderEvent{Type: services.OrderEventSubmitted, OrderID: 1})
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := publisher.Publish(ctx, services.OrderEvent{Type: services.OrderEventConfirmed, OrderID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(started), time.Second)

	select {
	case err := <-first:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dial was not bounded by DialTimeout")
	}
}
