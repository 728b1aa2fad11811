package services

import (
	"strconv"

	"github.com/yeremiapane/tablesync/hub"
)

// Notifier routes post-commit pushes to the diner and admin channels.
type Notifier struct {
	Diners hub.Broadcaster
	Admins hub.Broadcaster
}

// AdminChannel is the admin hub channel of a restaurant.
func AdminChannel(restaurantID uint) string {
	return strconv.FormatUint(uint64(restaurantID), 10)
}

func (n Notifier) diner(sessionPID, event string, data interface{}) {
	if n.Diners == nil {
		return
	}
	n.Diners.Broadcast(sessionPID, hub.Message{Event: event, Data: data})
}

func (n Notifier) admin(restaurantID uint, event string, data interface{}) {
	if n.Admins == nil {
		return
	}
	n.Admins.Broadcast(AdminChannel(restaurantID), hub.Message{Event: event, Data: data})
}

// closeSession tells diners the session ended and drops their sockets.
func (n Notifier) closeSession(sessionPID, reason string) {
	n.diner(sessionPID, hub.EventSessionClosed, map[string]string{"session_pid": sessionPID, "reason": reason})
	if n.Diners != nil {
		n.Diners.CloseChannel(sessionPID, hub.CloseSessionClosed, reason)
	}
}
