package plugins

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// StreamMessage is pushed to status stream clients.
type StreamMessage struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id"`
	Time     time.Time       `json:"time"`
	Data     *statusSnapshot `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// streamRequest is sent by clients; "refresh" asks for an immediate snapshot.
type streamRequest struct {
	Type string `json:"type"`
}

type statusStream struct {
	id      string
	refresh chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *statusStream) close() {
	s.once.Do(func() { close(s.done) })
}

type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*statusStream
}

func (r *streamRegistry) add(s *statusStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams == nil {
		r.streams = make(map[string]*statusStream)
	}
	r.streams[s.id] = s
}

func (r *streamRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.streams {
		s.close()
		delete(r.streams, id)
	}
}

func (r *streamRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (p *ClockgenPlugin) registerStream(api fiber.Router) {
	api.Get("/ws", websocket.New(p.handleStream))
}

// handleStream pushes a status snapshot every status_interval until the
// client goes away or the plugin shuts down.
func (p *ClockgenPlugin) handleStream(c *websocket.Conn) {
	stream := &statusStream{
		id:      uuid.New().String(),
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.streams.add(stream)
	defer p.streams.remove(stream.id)
	defer stream.close()

	slog.Info("Status stream opened", "stream_id", stream.id, "interval", p.config.StatusInterval)

	go func() {
		defer stream.close()
		for {
			var req streamRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if req.Type == "refresh" {
				select {
				case stream.refresh <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(p.config.StatusInterval)
	defer ticker.Stop()

	for {
		if err := c.WriteJSON(p.streamMessage(stream.id)); err != nil {
			slog.Debug("Status stream write failed", "stream_id", stream.id, "error", err)
			break
		}

		select {
		case <-ticker.C:
		case <-stream.refresh:
		case <-stream.done:
			slog.Info("Status stream closed", "stream_id", stream.id)
			return
		}
	}
	slog.Info("Status stream closed", "stream_id", stream.id)
}

func (p *ClockgenPlugin) streamMessage(id string) StreamMessage {
	msg := StreamMessage{Type: "status", StreamID: id, Time: time.Now()}
	snap, err := p.snapshot()
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
		return msg
	}
	msg.Data = &snap
	return msg
}
