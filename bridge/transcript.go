package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	subscriberBuf = 256
)

// Transcript fans Transcript output out to websocket subscribers. It is the
// io.Writer the VM prints to, so Write runs on the worker goroutine and
// never blocks: a subscriber that falls behind loses output.
type Transcript struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newTranscript() *Transcript {
	return &Transcript{subs: make(map[chan []byte]struct{})}
}

// Write implements io.Writer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return len(p), nil
	}
	chunk := append([]byte(nil), p...)
	for ch := range t.subs {
		select {
		case ch <- chunk:
		default:
			log.Debugf("transcript subscriber is behind, dropping %d bytes", len(chunk))
		}
	}
	return len(p), nil
}

func (t *Transcript) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuf)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

func (t *Transcript) unsubscribe(ch chan []byte) {
	t.mu.Lock()
	delete(t.subs, ch)
	t.mu.Unlock()
}

// Subscribers returns the number of connected streams.
func (t *Transcript) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Any origin; the token is the access check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveTranscript streams Transcript output as text messages until the
// client goes away.
func (s *Server) serveTranscript(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("transcript upgrade: %s", err)
		return
	}
	defer conn.Close()

	ch := s.transcript.subscribe()
	defer s.transcript.unsubscribe(ch)
	log.Infof("transcript stream opened from %s", r.RemoteAddr)

	// The read side only handles control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debugf("transcript read: %s", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case chunk := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, chunk); err != nil {
				log.Debugf("transcript write: %s", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			log.Infof("transcript stream from %s closed", r.RemoteAddr)
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
				time.Now().Add(writeWait))
			return
		}
	}
}
