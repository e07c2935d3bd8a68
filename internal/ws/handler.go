package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/shared/id"
)

const (
	// subscriberBuffer is the per-connection trace buffer. The hub
	// drops events for a client whose buffer is full.
	subscriberBuffer = 256

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler manages trace stream connections.
type Handler struct {
	hub     *tracing.Hub
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandler creates a WebSocket handler over the trace hub.
func NewHandler(hub *tracing.Hub, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{hub: hub, metrics: metrics, log: log}
}

type clientMessage struct {
	Type string `json:"type"`
}

type controlMessage struct {
	Type   string `json:"type"`
	Client string `json:"client,omitempty"`
}

// HandleConnection upgrades the request and forwards trace events
// until the client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := id.NewClientID()
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	h.log.Info("trace client connected", zap.String("client", client.String()))

	events, cancel := h.hub.Subscribe(subscriberBuffer)
	defer cancel()

	if err := h.write(conn, controlMessage{Type: "system", Client: client.String()}); err != nil {
		return
	}

	// The reader goroutine owns the receive side; all writes stay on
	// this goroutine so frames never interleave.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.read(conn, pings, done)

	for {
		select {
		case <-done:
			h.log.Info("trace client disconnected", zap.String("client", client.String()))
			return
		case <-pings:
			if err := h.write(conn, controlMessage{Type: "pong"}); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", "pong")
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, ev); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", string(ev.Kind))
		}
	}
}

func (h *Handler) read(conn *websocket.Conn, pings chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)
		if msg.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v interface{}) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
