// Package snapshot archives the product rows collected by a crawl session as
// a JSON document, so each run leaves an auditable artifact independent of
// the live database.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Chanseok/matter-certis-crawler/internal/catalog"
)

// Store persists one artifact and returns its URI.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Document is the archived payload for one session.
type Document struct {
	SessionID  string                  `json:"session_id"`
	CapturedAt time.Time               `json:"captured_at"`
	TotalPages int                     `json:"total_pages"`
	Partial    bool                    `json:"partial"`
	Products   []catalog.ProductRecord `json:"products"`
}

// Archiver serializes session documents into a Store.
type Archiver struct {
	store Store
	now   func() time.Time
}

// NewArchiver wraps a store. A nil store is rejected so callers decide
// explicitly whether archiving is enabled.
func NewArchiver(store Store) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	return &Archiver{store: store, now: time.Now}, nil
}

// Archive writes the document and returns the artifact URI. The object path
// is date-partitioned so bucket listings stay navigable.
func (a *Archiver) Archive(ctx context.Context, doc Document) (string, error) {
	if doc.SessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	if doc.CapturedAt.IsZero() {
		doc.CapturedAt = a.now().UTC()
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	path := fmt.Sprintf("snapshots/%s/%s.json", doc.CapturedAt.Format("2006-01-02"), doc.SessionID)
	uri, err := a.store.PutObject(ctx, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return uri, nil
}

// ArchivePage stores one fetched page's raw markup under the session prefix.
func (a *Archiver) ArchivePage(ctx context.Context, sessionID string, pageID int, html string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	if html == "" {
		return "", fmt.Errorf("page markup is empty")
	}
	path := fmt.Sprintf("%s/%d.html", sessionID, pageID)
	uri, err := a.store.PutObject(ctx, path, "text/html", strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("store page snapshot: %w", err)
	}
	return uri, nil
}
