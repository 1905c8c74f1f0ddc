package storeapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gateway "github.com/nextpulse/streamgate/internal"
)

// session is an authorized connection to one data center.
type session struct {
	client *Client
	id     string
	dc     int
}

// Read fetches up to limit bytes of the object at offset. The chunk
// body comes back as a raw octet stream; JSON bodies are error
// envelopes.
func (s *session) Read(ctx context.Context, desc *gateway.ObjectDescriptor, offset, limit int64) ([]byte, error) {
	req := map[string]any{
		"session_id": s.id,
		"kind":       desc.Kind.String(),
		"offset":     offset,
		"limit":      limit,
	}
	loc := desc.Location
	switch desc.Kind {
	case gateway.KindChatPhoto:
		req["chat_id"] = loc.ChatID
		req["chat_access_hash"] = loc.ChatAccessHash
		req["volume_id"] = loc.VolumeID
		req["local_id"] = loc.LocalID
		req["big"] = loc.Big
	default:
		req["media_id"] = loc.MediaID
		req["access_hash"] = loc.AccessHash
		req["file_reference"] = base64.StdEncoding.EncodeToString(loc.FileReference)
		req["thumb_size"] = loc.ThumbSize
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("storeapi: marshal read: %w", err)
	}
	u := s.client.endpoint(s.dc) + "/upload.getFile"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("storeapi: create read request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("storeapi: read chunk: %v: %w", err, gateway.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("storeapi: read chunk body: %v: %w", err, gateway.ErrTransport)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("upload.getFile", resp, body)
	}
	return body, nil
}
