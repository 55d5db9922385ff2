package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	maxPingFailures = 3
	closeGrace      = 2 * time.Second
)

type GatewayOptions struct {
	// Initial returns the events sent to an observer before anything it
	// receives from the hub.
	Initial func() []Event
	// OriginPatterns are host patterns allowed for cross-origin upgrades.
	OriginPatterns []string
	QueueSize      int
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Gateway is the WebSocket endpoint that streams hub events to browsers.
// Frames are JSON objects {"event": name, "data": payload}.
type Gateway struct {
	hub  *Hub
	log  *zap.Logger
	opts GatewayOptions
}

func NewGateway(hub *Hub, logger *zap.Logger, opts GatewayOptions) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Gateway{hub: hub, log: logger, opts: opts}
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		g.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	obs := NewObserver(g.opts.QueueSize)
	log := g.log.With(zap.String("observer", obs.ID))

	if g.opts.Initial != nil {
		for _, ev := range g.opts.Initial() {
			obs.Send <- ev
		}
	}
	g.hub.Register(obs)
	defer g.hub.Unregister(obs)

	// Observers only receive; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			obs.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, obs, log, shutdown)
	}()

	log.Info("observer connected")
	for {
		select {
		case <-ctx.Done():
			shutdown(websocket.StatusNormalClosure, "context done")
		case <-obs.Done():
		case ev := <-obs.Send:
			if err := g.write(ctx, conn, ev); err != nil {
				log.Info("websocket write failed", zap.Error(err))
				shutdown(websocket.StatusAbnormalClosure, "write failed")
			}
			continue
		}
		break
	}

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	log.Info("observer disconnected")
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, obs *Observer, log *zap.Logger, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.opts.PingInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-obs.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.opts.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				failures++
				log.Info("websocket ping failed", zap.Int("failures", failures), zap.Error(err))
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(parent, g.opts.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(frame{Event: ev.Name, Data: ev.Data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
