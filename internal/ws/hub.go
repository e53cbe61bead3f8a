package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans attempt events out to subscribers keyed by workload ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	workloadID string
	payload    []byte
}

type subscription struct {
	workloadID string
	client     Subscriber
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.workloadID]; !ok {
				h.clients[sub.workloadID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.workloadID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.workloadID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.workloadID)
				}
			}
		case msg := <-h.broadcast:
			clients, ok := h.clients[msg.workloadID]
			if !ok {
				continue
			}
			for c := range clients {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				delete(h.clients, msg.workloadID)
			}
		}
	}
}

// Register adds a client to a workload stream.
func (h *Hub) Register(workloadID string, client Subscriber) {
	select {
	case h.register <- subscription{workloadID: workloadID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(workloadID string, client Subscriber) {
	select {
	case h.unreg <- subscription{workloadID: workloadID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients of the workload. It is a no-op once the hub is closed.
func (h *Hub) Broadcast(workloadID string, payload []byte) {
	select {
	case h.broadcast <- message{workloadID: workloadID, payload: payload}:
	case <-h.done:
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
