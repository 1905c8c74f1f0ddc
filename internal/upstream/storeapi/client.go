// Package storeapi implements upstream.Capability against the message
// store's per-data-center HTTP API.
//
// Each data center is reachable at a base URL derived from an endpoint
// template. A session is started on the identity's home DC with the
// app credentials; foreign DCs get an unauthenticated session followed
// by an authorization export from the home session and an import into
// the new one. Chunk reads are plain octet-stream responses; JSON
// envelopes are parsed with gjson.
package storeapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/upstream"
)

// authImportAttempts bounds the export/import handshake retries before
// the session is abandoned with ErrAuthInvalid.
const authImportAttempts = 6

// Config holds the credentials and addressing for one client identity.
type Config struct {
	APIID          int
	APIHash        string
	BotToken       string
	ArchiveChannel int64
	// EndpointTemplate expands a DC ID into a base URL,
	// e.g. "https://dc%d.store.example".
	EndpointTemplate string
}

// Client is one upstream identity with a session table keyed by DC.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	sessions map[int]*session
	homeDC   int // 0 until the first home session is started
}

var _ upstream.Capability = (*Client)(nil)

// New creates a Client. If resolver is non-nil the transport uses
// cached DNS lookups.
func New(cfg Config, resolver *dnscache.Resolver) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: newTransport(resolver)},
		sessions: make(map[int]*session),
	}
}

func (c *Client) endpoint(dc int) string {
	return fmt.Sprintf(c.cfg.EndpointTemplate, dc)
}

// Locate resolves an object ID in the archive channel to a descriptor.
func (c *Client) Locate(ctx context.Context, objectID int64) (*gateway.ObjectDescriptor, error) {
	sess, err := c.homeSession(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, sess.dc, "messages.locate", map[string]any{
		"session_id": sess.id,
		"channel_id": c.cfg.ArchiveChannel,
		"message_id": objectID,
	})
	if err != nil {
		return nil, err
	}
	return parseDescriptor(body)
}

// CopyToArchive copies a source message into the archive channel and
// returns the copy's descriptor.
func (c *Client) CopyToArchive(ctx context.Context, sourceChatID, messageID int64, caption string) (*gateway.ObjectDescriptor, error) {
	if len(caption) > 1024 {
		caption = caption[:1024]
	}
	sess, err := c.homeSession(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, sess.dc, "messages.copy", map[string]any{
		"session_id":   sess.id,
		"from_chat_id": sourceChatID,
		"message_id":   messageID,
		"to_chat_id":   c.cfg.ArchiveChannel,
		"caption":      caption,
	})
	if err != nil {
		return nil, err
	}
	return parseDescriptor(body)
}

// Session returns the cached session for dc, creating one if needed.
func (c *Client) Session(ctx context.Context, dc int) (upstream.Session, error) {
	c.mu.Lock()
	if sess, ok := c.sessions[dc]; ok {
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	// Session creation runs unlocked; concurrent creators for the same
	// DC race and the loser's session is discarded below.
	sess, err := c.startSession(ctx, dc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[dc]; ok {
		return existing, nil
	}
	c.sessions[dc] = sess
	return sess, nil
}

// InvalidateSession drops the cached session for dc.
func (c *Client) InvalidateSession(dc int) {
	c.mu.Lock()
	delete(c.sessions, dc)
	c.mu.Unlock()
}

// Close releases all sessions.
func (c *Client) Close() error {
	c.mu.Lock()
	c.sessions = make(map[int]*session)
	c.mu.Unlock()
	c.http.CloseIdleConnections()
	return nil
}

// homeSession returns the session for the identity's home DC, starting
// it (and learning the home DC) on first use.
func (c *Client) homeSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	home := c.homeDC
	if sess, ok := c.sessions[home]; home != 0 && ok {
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	sess, err := c.authorize(ctx, 0)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.homeDC = sess.dc
	if existing, ok := c.sessions[sess.dc]; ok {
		return existing, nil
	}
	c.sessions[sess.dc] = sess
	return sess, nil
}

// startSession creates an authorized session on dc, using the home
// session's exported authorization when dc is not the home DC.
func (c *Client) startSession(ctx context.Context, dc int) (*session, error) {
	home, err := c.homeSession(ctx)
	if err != nil {
		return nil, err
	}
	if dc == home.dc {
		return home, nil
	}

	sess, err := c.open(ctx, dc, false)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < authImportAttempts; attempt++ {
		export, err := c.call(ctx, home.dc, "auth.export", map[string]any{
			"session_id": home.id,
			"target_dc":  dc,
		})
		if err != nil {
			return nil, err
		}
		_, err = c.call(ctx, dc, "auth.import", map[string]any{
			"session_id": sess.id,
			"auth_id":    gjson.GetBytes(export, "auth_id").Int(),
			"bytes":      gjson.GetBytes(export, "bytes").String(),
		})
		if err == nil {
			slog.Debug("media session authorized", "dc", dc, "attempt", attempt+1)
			return sess, nil
		}
		if wait, ok := gateway.AsFloodWait(err); ok {
			if serr := sleepCtx(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}
		slog.Debug("authorization bytes rejected", "dc", dc, "attempt", attempt+1)
	}
	c.stop(ctx, sess)
	return nil, fmt.Errorf("import authorization for dc %d: %w", dc, gateway.ErrAuthInvalid)
}

// open starts a raw session on dc. With credentials, the store binds it
// to the bot identity and reports the identity's home DC.
func (c *Client) open(ctx context.Context, dc int, withCreds bool) (*session, error) {
	req := map[string]any{}
	if withCreds {
		req["api_id"] = c.cfg.APIID
		req["api_hash"] = c.cfg.APIHash
		req["bot_token"] = c.cfg.BotToken
	}
	path := "session.start"
	target := dc
	if dc == 0 {
		// DC 0 means "wherever this identity lives": the nearest
		// endpoint redirects the call and reports the real DC.
		target = 1
	}
	body, err := c.call(ctx, target, path, req)
	if err != nil {
		return nil, err
	}
	realDC := int(gjson.GetBytes(body, "dc_id").Int())
	if realDC == 0 {
		realDC = target
	}
	return &session{
		client: c,
		id:     gjson.GetBytes(body, "session_id").String(),
		dc:     realDC,
	}, nil
}

// authorize starts a credentialed session on dc (0 = home).
func (c *Client) authorize(ctx context.Context, dc int) (*session, error) {
	return c.open(ctx, dc, true)
}

// stop ends a session server-side; errors are ignored, the session is
// gone either way.
func (c *Client) stop(ctx context.Context, sess *session) {
	_, _ = c.call(ctx, sess.dc, "session.stop", map[string]any{"session_id": sess.id})
}

// call POSTs a JSON envelope to a DC endpoint and returns the response
// body, translating error responses into gateway error kinds.
func (c *Client) call(ctx context.Context, dc int, method string, req map[string]any) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("storeapi: marshal %s: %w", method, err)
	}
	u := c.endpoint(dc) + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("storeapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("storeapi: %s: %v: %w", method, err, gateway.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*gateway.ChunkSize))
	if err != nil {
		return nil, fmt.Errorf("storeapi: read %s response: %v: %w", method, err, gateway.ErrTransport)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(method, resp, body)
	}
	return body, nil
}

// apiError maps a non-200 store response to a gateway error kind.
func apiError(method string, resp *http.Response, body []byte) error {
	code := gjson.GetBytes(body, "error").String()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || code == "FLOOD_WAIT":
		wait := gjson.GetBytes(body, "retry_after").Int()
		if wait == 0 {
			if n, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = int64(n)
			}
		}
		return fmt.Errorf("storeapi: %s: %w", method, &gateway.FloodWaitError{Wait: time.Duration(wait) * time.Second})
	case code == "AUTH_BYTES_INVALID" || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("storeapi: %s: %w", method, gateway.ErrAuthInvalid)
	case resp.StatusCode == http.StatusNotFound || code == "MESSAGE_NOT_FOUND":
		return fmt.Errorf("storeapi: %s: %w", method, gateway.ErrFileNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("storeapi: %s: status %d: %w", method, resp.StatusCode, gateway.ErrTransport)
	default:
		return fmt.Errorf("storeapi: %s: status %d: %s", method, resp.StatusCode, code)
	}
}

// parseDescriptor builds an ObjectDescriptor from a store JSON envelope.
func parseDescriptor(body []byte) (*gateway.ObjectDescriptor, error) {
	r := gjson.ParseBytes(body)
	if !r.Get("message_id").Exists() {
		return nil, fmt.Errorf("storeapi: descriptor missing message_id: %w", gateway.ErrFileNotFound)
	}
	var kind gateway.LocationKind
	switch r.Get("kind").String() {
	case "photo":
		kind = gateway.KindPhoto
	case "chat_photo":
		kind = gateway.KindChatPhoto
	default:
		kind = gateway.KindDocument
	}
	fileRef, _ := base64.StdEncoding.DecodeString(r.Get("location.file_reference").String())
	return &gateway.ObjectDescriptor{
		ObjectID: r.Get("message_id").Int(),
		DCID:     int(r.Get("dc_id").Int()),
		UniqueID: r.Get("unique_id").String(),
		FileSize: r.Get("file_size").Int(),
		MimeType: r.Get("mime_type").String(),
		FileName: r.Get("file_name").String(),
		Kind:     kind,
		Location: gateway.LocationKey{
			MediaID:        r.Get("location.media_id").Int(),
			AccessHash:     r.Get("location.access_hash").Int(),
			FileReference:  fileRef,
			ThumbSize:      r.Get("location.thumb_size").String(),
			ChatID:         r.Get("location.chat_id").Int(),
			ChatAccessHash: r.Get("location.chat_access_hash").Int(),
			VolumeID:       r.Get("location.volume_id").Int(),
			LocalID:        int(r.Get("location.local_id").Int()),
			Big:            r.Get("location.big").Bool(),
		},
	}, nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
