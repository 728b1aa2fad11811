package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// StartHeartbeat pings client every interval and evicts it when no pong has
// arrived for interval+grace. The goroutine exits when the client leaves the
// hub.
func (h *Hub) StartHeartbeat(client *Client, interval, grace time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		deadline := time.NewTimer(interval + grace)
		defer deadline.Stop()

		for {
			select {
			case <-client.done:
				return
			case <-client.pong:
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(interval + grace)
			case <-ticker.C:
				if err := client.control(websocket.PingMessage, nil); err != nil {
					h.log().WithError(err).WithField("channel", client.channel).Warn("ping failed")
					h.Disconnect(client.conn)
					return
				}
			case <-deadline.C:
				h.log().WithField("channel", client.channel).Warn("pong timeout, evicting socket")
				h.Disconnect(client.conn)
				return
			}
		}
	}()
}
