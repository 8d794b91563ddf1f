package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/producer"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from an ingest client.
	maxFrameSize = 1 << 20

	// Close reasons must fit a control frame.
	maxCloseReason = 120
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleIngestWS runs one ingest over a websocket. Every data frame is an
// item; the client's close frame completes the stream. The server answers
// with a JSON text frame carrying the assigned id right after the upgrade,
// and closes with a JSON ingestResult as the close reason.
func (c *StreamsController) handleIngestWS(w http.ResponseWriter, r *http.Request) {
	caller, ok := identify(c.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	rec, err := recordFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err = c.st.Prepare(caller, rec)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Debug("websocket upgrade failed", logpkg.Err(err))
		return
	}
	defer conn.Close()
	connID := uuid.New().String()
	l := c.log.With(logpkg.Stream(rec.ID.String()), logpkg.Str("conn", connID))

	hello, _ := json.Marshal(ingestAccepted{ID: rec.ID, Record: rec})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	// The close frame is answered once the stream is completed, not as
	// soon as it arrives.
	peerClosed := make(chan struct{})
	conn.SetCloseHandler(func(int, string) error {
		close(peerClosed)
		return nil
	})
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	items := make(chan []byte)
	type result struct {
		rec media.Record
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := c.st.Ingest(ctx, caller, rec, items)
		done <- result{rec: rec, err: err}
	}()

	n, readErr := c.readFrames(ctx, conn, caller, items)
	close(items)
	if readErr != nil {
		// The client vanished without completing; the ingest still
		// writes its completion entry.
		cancel()
	}
	res := <-done

	select {
	case <-peerClosed:
	default:
		if readErr != nil {
			l.Debug("ingest connection lost", logpkg.Err(readErr), logpkg.Int64("items", n))
			return
		}
	}
	out := ingestResult{ID: res.rec.ID, Items: n}
	code := websocket.CloseNormalClosure
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		out.Error = res.err.Error()
		code = websocket.CloseInternalServerErr
		l.Warn("ingest failed", logpkg.Err(res.err))
	}
	reason, _ := json.Marshal(out)
	if len(reason) > maxCloseReason {
		out.Error = ""
		reason, _ = json.Marshal(out)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, string(reason)), time.Now().Add(writeWait))
}

// readFrames forwards data frames to items until the peer's close frame,
// which returns a nil error, or a read failure.
func (c *StreamsController) readFrames(ctx context.Context, conn *websocket.Conn, caller producer.Identity, items chan<- []byte) (int64, error) {
	var n int64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return n, nil
			}
			return n, err
		}
		if err := c.limiter.Wait(ctx, caller.Subject); err != nil {
			return n, err
		}
		select {
		case items <- data:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

// handleConsumeWS streams parts as binary frames and closes normally at
// the end of the stream. Text frames from the client are ignored.
func (c *StreamsController) handleConsumeWS(w http.ResponseWriter, r *http.Request) {
	rd, sid, ok := c.openReader(w, r)
	if !ok {
		return
	}
	defer rd.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Debug("websocket upgrade failed", logpkg.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go consumeReadPump(conn, cancel)

	parts := make(chan outcome.Outcome[media.Part])
	go func() {
		defer close(parts)
		for {
			o := rd.Next(ctx)
			select {
			case parts <- o:
			case <-ctx.Done():
				return
			}
			if o.Terminal() {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case o, ok := <-parts:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			switch o.Kind {
			case outcome.KindOk:
				if err := conn.WriteMessage(websocket.BinaryMessage, o.Item.Data); err != nil {
					return
				}
			case outcome.KindEnd:
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			default:
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("websocket read failed", logpkg.Stream(sid.String()), logpkg.Err(o.Err))
				reason := o.Err.Error()
				if len(reason) > maxCloseReason {
					reason = reason[:maxCloseReason]
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// consumeReadPump keeps control frames flowing and cancels the read when
// the client goes away.
func consumeReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
