package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rzbill/mediaflo/internal/media"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/pkg/id"
)

const writeWait = 10 * time.Second

// HTTPTransport implements StreamsTransport over the HTTP gateway: ingest
// and reads go over websockets, the rest is plain JSON.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
	// NextWait is the long-poll timeout sent with Next.
	NextWait time.Duration
}

// NewHTTPTransport targets the gateway at baseURL, e.g. http://127.0.0.1:8080.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		client:   http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		NextWait: 30 * time.Second,
	}
}

func (t *HTTPTransport) header() http.Header {
	h := http.Header{}
	if t.token != "" {
		h.Set("Authorization", "Bearer "+t.token)
	}
	return h
}

func (t *HTTPTransport) wsURL(path string, q url.Values) string {
	u := t.baseURL + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (t *HTTPTransport) dial(ctx context.Context, path string, q url.Values) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.wsURL(path, q), t.header())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, responseError(resp)
		}
		return nil, err
	}
	return conn, nil
}

// Ingest sends each item as a binary frame and completes the stream with
// a close frame.
func (t *HTTPTransport) Ingest(ctx context.Context, rec media.Record, items <-chan []byte, onID func(id.ID)) (IngestResult, error) {
	q := url.Values{}
	if rec.Kind != "" {
		q.Set("kind", string(rec.Kind))
	}
	if rec.Format != "" {
		q.Set("format", rec.Format)
	}
	if !rec.ID.IsZero() {
		q.Set("id", rec.ID.String())
	}
	conn, err := t.dial(ctx, "/v1/streams/ingest", q)
	if err != nil {
		return IngestResult{}, err
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return IngestResult{}, err
	}
	var hello struct {
		ID id.ID `json:"id"`
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: bad greeting: %w", err)
	}
	if onID != nil {
		onID(hello.ID)
	}

	for data := range items {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return IngestResult{ID: hello.ID}, err
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		return IngestResult{ID: hello.ID}, err
	}
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return IngestResult{ID: hello.ID}, err
	}
	var res struct {
		ID    id.ID  `json:"id"`
		Items int64  `json:"items"`
		Error string `json:"error"`
	}
	if ce.Text != "" {
		_ = json.Unmarshal([]byte(ce.Text), &res)
	}
	if res.ID.IsZero() {
		res.ID = hello.ID
	}
	out := IngestResult{ID: res.ID, Items: res.Items}
	if ce.Code != websocket.CloseNormalClosure {
		if res.Error == "" {
			res.Error = ce.Error()
		}
		return out, errors.New(res.Error)
	}
	return out, nil
}

// Read consumes the websocket read endpoint.
func (t *HTTPTransport) Read(ctx context.Context, streamID id.ID, opts streamsvc.ReadOptions, onPart func(data []byte) error) error {
	q := url.Values{}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	if !opts.Start.IsStart() {
		q.Set("start", opts.Start.String())
	}
	if opts.Consumer != "" {
		q.Set("consumer", opts.Consumer)
	}
	if opts.Durable {
		q.Set("durable", "true")
	}
	conn, err := t.dial(ctx, "/v1/streams/"+streamID.String()+"/ws", q)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if cbErr := onPart(msg); cbErr != nil {
			return cbErr
		}
	}
}

// Next long-polls /v1/streams/next.
func (t *HTTPTransport) Next(ctx context.Context) (media.Record, error) {
	var rec media.Record
	q := url.Values{"timeout": {t.NextWait.String()}}
	status, err := t.getJSON(ctx, "/v1/streams/next?"+q.Encode(), &rec)
	if err != nil {
		return rec, err
	}
	if status == http.StatusNoContent {
		return rec, ErrNoStream
	}
	return rec, nil
}

// Info fetches /v1/streams/{id}.
func (t *HTTPTransport) Info(ctx context.Context, streamID id.ID) (streamsvc.StreamInfo, error) {
	var info streamsvc.StreamInfo
	_, err := t.getJSON(ctx, "/v1/streams/"+streamID.String(), &info)
	return info, err
}

func (t *HTTPTransport) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header = t.header()
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, nil
	case resp.StatusCode >= 300:
		return resp.StatusCode, responseError(resp)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// responseError turns a gateway error body into an error.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	return errors.New(resp.Status)
}
