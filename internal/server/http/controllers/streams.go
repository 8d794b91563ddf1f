package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rzbill/mediaflo/internal/auth"
	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/outcome"
	"github.com/rzbill/mediaflo/internal/runtime"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
	logpkg "github.com/rzbill/mediaflo/pkg/log"
)

const (
	// maxFilterLen bounds CEL filter expressions taken from query strings.
	maxFilterLen = 2048
	// Long-poll bounds for /v1/streams/next.
	defaultNextWait = 30 * time.Second
	maxNextWait     = 5 * time.Minute
)

// StreamsController handles all stream-related HTTP endpoints: websocket
// ingest, SSE and websocket consumers, discovery and status.
type StreamsController struct {
	rt      *runtime.Runtime
	st      *streamsvc.Service
	auth    *auth.Authenticator
	limiter *auth.Limiter
	log     logpkg.Logger
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(rt *runtime.Runtime, svc *streamsvc.Service, logger logpkg.Logger) *StreamsController {
	cfg := rt.Config()
	return &StreamsController{
		rt:      rt,
		st:      svc,
		auth:    auth.NewAuthenticator(cfg.Auth),
		limiter: auth.NewLimiter(cfg.Server.IngestRate, cfg.Server.IngestBurst),
		log:     logger,
	}
}

// RegisterRoutes registers all stream-related routes with the given router.
//
// - Ingest (GET /v1/streams/ingest, websocket)
// - Discovery (GET /v1/streams/next, GET /v1/streams/live)
// - Consumption (GET /v1/streams/{id}/events SSE, GET /v1/streams/{id}/ws)
// - Status (GET /v1/streams/{id})
func (c *StreamsController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/streams/ingest", c.handleIngestWS)
	r.Get("/v1/streams/{id}/events", c.handleEventsSSE)
	r.Get("/v1/streams/{id}/ws", c.handleConsumeWS)

	// JSON endpoints are compressed; the streaming ones above flush as
	// they go.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json"))
		r.Get("/v1/streams/next", c.handleNext)
		r.Get("/v1/streams/live", c.handleLive)
		r.Get("/v1/streams/{id}", c.handleInfo)
	})
}

// streamID parses the {id} path parameter, writing 400 when malformed.
func streamID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	v, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid stream id")
		return id.Zero, false
	}
	return v, true
}

// readOptions parses skip, filter, start, consumer and durable from the
// query string, writing 400 on invalid input.
func readOptions(w http.ResponseWriter, r *http.Request) (streamsvc.ReadOptions, bool) {
	q := r.URL.Query()
	var opts streamsvc.ReadOptions
	skip, ok := parseNonNegative(q.Get("skip"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid skip")
		return opts, false
	}
	opts.Skip = skip
	if f := q.Get("filter"); f != "" {
		if len(f) > maxFilterLen {
			writeError(w, http.StatusBadRequest, "Filter too long")
			return opts, false
		}
		opts.Filter = f
	}
	if s := q.Get("start"); s != "" {
		pos, err := streamlog.ParsePosition(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start position")
			return opts, false
		}
		opts.Start = pos
	}
	opts.Consumer = q.Get("consumer")
	opts.Durable = parseBool(q.Get("durable"))
	return opts, true
}

// openReader validates the request and opens a reader, writing the error
// response itself when it cannot.
func (c *StreamsController) openReader(w http.ResponseWriter, r *http.Request) (streamsvc.Reader, id.ID, bool) {
	if _, ok := identify(c.auth, r); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, id.Zero, false
	}
	sid, ok := streamID(w, r)
	if !ok {
		return nil, id.Zero, false
	}
	opts, ok := readOptions(w, r)
	if !ok {
		return nil, id.Zero, false
	}
	rd, err := c.st.Read(r.Context(), sid, opts)
	if err != nil {
		if errors.Is(err, streamsvc.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to open stream")
		}
		return nil, id.Zero, false
	}
	return rd, sid, true
}

// handleEventsSSE streams the parts of one stream as Server-Sent Events,
// ending with an "end" or "error" event.
func (c *StreamsController) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	rd, sid, ok := c.openReader(w, r)
	if !ok {
		return
	}
	defer rd.Close()

	sse := newSSEWriter(w)
	ctx := r.Context()
	for {
		o := rd.Next(ctx)
		switch o.Kind {
		case outcome.KindOk:
			if err := sse.Part(partEvent{Index: o.Item.Index, Data: o.Item.Data}); err != nil {
				return
			}
		case outcome.KindEnd:
			_ = sse.End()
			return
		default:
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("sse read failed", logpkg.Stream(sid.String()), logpkg.Err(o.Err))
			_ = sse.Error(o.Err.Error())
			return
		}
	}
}

// handleNext long-polls the discovery queue. 204 when nothing was
// announced within the wait.
func (c *StreamsController) handleNext(w http.ResponseWriter, r *http.Request) {
	if _, ok := identify(c.auth, r); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	wait := parseTimeout(r.URL.Query().Get("timeout"), defaultNextWait, maxNextWait)
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	rec, err := c.st.NextStream(ctx)
	switch {
	case err == nil:
		writeJSON(w, rec)
	case errors.Is(err, context.DeadlineExceeded):
		writeNoContent(w)
	case r.Context().Err() != nil:
		return
	default:
		c.log.Warn("next stream failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to read discovery queue")
	}
}

// handleLive lists streams ingested by this process.
func (c *StreamsController) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, liveResponse{Streams: c.st.Live()})
}

// handleInfo reports the log length of one stream.
func (c *StreamsController) handleInfo(w http.ResponseWriter, r *http.Request) {
	sid, ok := streamID(w, r)
	if !ok {
		return
	}
	info, err := c.st.Info(r.Context(), sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read stream")
		return
	}
	if info.Entries == 0 && !info.Live {
		writeError(w, http.StatusNotFound, "Stream not found")
		return
	}
	writeJSON(w, info)
}

// recordFromQuery builds the ingest record from kind, format and id.
func recordFromQuery(r *http.Request) (media.Record, error) {
	q := r.URL.Query()
	kind, err := media.ParseKind(q.Get("kind"))
	if err != nil {
		return media.Record{}, err
	}
	rec := media.Record{Kind: kind, Format: q.Get("format")}
	if s := q.Get("id"); s != "" {
		v, err := id.Parse(s)
		if err != nil {
			return media.Record{}, err
		}
		rec.ID = v
	}
	return rec, nil
}
