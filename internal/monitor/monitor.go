/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package monitor broadcasts Processor state transitions to connected
// websocket clients, an optional operational dashboard feed. It plays the
// same role scm/network.go's "websocket" builtin plays for the teacher's
// query shell — upgrade, fan out, tolerate disconnects — aimed at one
// purpose instead of a generic RPC channel.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dc0d/onexit"
	"github.com/gorilla/websocket"

	"github.com/cea-hpc/phobos-go/internal/telemetry"
)

const writeTimeout = 2 * time.Second

func deadlineNow() time.Time { return time.Now().Add(writeTimeout) }

// Event is one Processor step transition, published for dashboards.
type Event struct {
	ObjectID string `json:"object_id"`
	State    string `json:"state"`
	Detail   string `json:"detail,omitempty"`
}

// Broadcaster fans out Events to every connected websocket client.
type Broadcaster struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	log   telemetry.Logger
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{conns: make(map[*websocket.Conn]struct{}), log: telemetry.Default()}
	onexit.Register(b.closeAll)
	return b
}

// closeAll sends every connected dashboard a close frame on process exit
// instead of letting the OS sever the sockets mid-write.
func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineNow())
		conn.Close()
		delete(b.conns, conn)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and registers it as a
// broadcast target until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnf("monitor: upgrade failed: %v", err)
		return
	}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.conns, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return // client disconnected
			}
		}
	}()
}

// Publish sends ev as JSON to every connected client; a slow or dead client
// is dropped rather than blocking the Processor that called Publish.
func (b *Broadcaster) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Warnf("monitor: marshal event: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.SetWriteDeadline(deadlineNow())
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.log.Warnf("monitor: dropping client after write error: %v", err)
			conn.Close()
			delete(b.conns, conn)
		}
	}
}
