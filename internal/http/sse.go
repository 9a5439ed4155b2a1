package httpserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
)

const clientBuffer = 16

// SSEBroker fans messages out to subscribed clients. Slow clients miss
// messages instead of blocking the broker.
type SSEBroker struct {
	clients    map[chan string]bool
	newClients chan chan string
	defunct    chan chan string
	messages   chan string
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.Mutex
}

func NewSSEBroker() *SSEBroker {
	b := &SSEBroker{
		clients:    make(map[chan string]bool),
		newClients: make(chan chan string),
		defunct:    make(chan chan string),
		messages:   make(chan string),
		done:       make(chan struct{}),
	}
	go b.start()
	return b
}

func (b *SSEBroker) start() {
	for {
		select {
		case s := <-b.newClients:
			b.mutex.Lock()
			b.clients[s] = true
			b.mutex.Unlock()
			log.Println("Added new SSE client")

		case s := <-b.defunct:
			b.mutex.Lock()
			if b.clients[s] {
				delete(b.clients, s)
				close(s)
			}
			b.mutex.Unlock()
			log.Println("Removed SSE client")

		case msg := <-b.messages:
			b.mutex.Lock()
			for s := range b.clients {
				select {
				case s <- msg:
				default:
				}
			}
			b.mutex.Unlock()

		case <-b.done:
			b.mutex.Lock()
			for s := range b.clients {
				delete(b.clients, s)
				close(s)
			}
			b.mutex.Unlock()
			return
		}
	}
}

// Subscribe registers a client. The channel is closed on Unsubscribe or
// Close.
func (b *SSEBroker) Subscribe() chan string {
	ch := make(chan string, clientBuffer)
	select {
	case b.newClients <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

func (b *SSEBroker) Unsubscribe(ch chan string) {
	select {
	case b.defunct <- ch:
	case <-b.done:
	}
}

func (b *SSEBroker) Broadcast(msg string) {
	select {
	case b.messages <- msg:
	case <-b.done:
	}
}

// Clients reports the number of subscribed clients.
func (b *SSEBroker) Clients() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// ServeHTTP streams events; ?agent=<id> keeps only that agent's events.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	filter := r.URL.Query().Get("agent")
	messageChan := b.Subscribe()
	defer b.Unsubscribe(messageChan)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-messageChan:
			if !open {
				return
			}
			if filter != "" && messageAgent(msg) != filter {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func messageAgent(msg string) string {
	var ev struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal([]byte(msg), &ev); err != nil {
		return ""
	}
	return ev.Agent
}
