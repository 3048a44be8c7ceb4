package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

const (
	// journalPageSize is how many events are read from the ledger per
	// query while building a journal.
	journalPageSize = 500
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 << 20
	contentTypeJSONL   = "application/x-ndjson"
)

// JournalSource is the ledger read side the archiver needs.
type JournalSource interface {
	GetMarket(ctx context.Context, id domain.MarketID) (*domain.Market, error)
	ListPositions(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Position, error)
	ListEvents(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Event, error)
}

// journalLine is one JSONL record. Exactly one payload field is set.
type journalLine struct {
	Type     string           `json:"type"`
	Market   *domain.Market   `json:"market,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
	Event    *domain.Event    `json:"event,omitempty"`
}

// Archiver implements domain.JournalArchiver. It writes a finalized or
// cancelled market's final record, positions and event journal as JSONL.
// Archiving is idempotent: an existing object is left alone.
//
// The ledger rows are kept; pruning them is a separate decision.
type Archiver struct {
	source JournalSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(source JournalSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "journal_archiver")),
	}
}

// JournalPath is the object key of a market's journal, partitioned by the
// month the market reached its terminal state.
//
//	journals/2025-01/0x…id.jsonl
func JournalPath(m *domain.Market) string {
	at := m.FinalizedAt
	if m.State == domain.MarketStateCancelled {
		at = m.CancelledAt
	}
	return fmt.Sprintf("journals/%s/%s.jsonl", at.UTC().Format("2006-01"), m.ID.Hex())
}

// ArchiveMarket uploads the journal of a terminal market and returns its
// path and the number of events written.
func (a *Archiver) ArchiveMarket(ctx context.Context, id domain.MarketID) (string, int, error) {
	m, err := a.source.GetMarket(ctx, id)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive %s: %w", id.Hex(), err)
	}
	if !m.State.Terminal() {
		return "", 0, fmt.Errorf("s3blob: archive %s: %w: market is %s", id.Hex(), domain.ErrInvalidStateTransition, m.State)
	}
	p := JournalPath(m)
	exists, err := a.reader.Exists(ctx, p)
	if err != nil {
		return "", 0, err
	}
	if exists {
		a.logger.DebugContext(ctx, "journal already archived", slog.String("path", p))
		return p, 0, nil
	}

	lines := []journalLine{{Type: "market", Market: m}}
	positions, err := a.source.ListPositions(ctx, id, domain.ListOpts{})
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive %s positions: %w", id.Hex(), err)
	}
	for i := range positions {
		lines = append(lines, journalLine{Type: "position", Position: &positions[i]})
	}
	events, err := a.allEvents(ctx, id)
	if err != nil {
		return "", 0, err
	}
	for i := range events {
		lines = append(lines, journalLine{Type: "event", Event: &events[i]})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive %s marshal: %w", id.Hex(), err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", 0, err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "journal.archived", map[string]any{
			"market_id": id.Hex(),
			"path":      p,
			"events":    len(events),
			"positions": len(positions),
			"bytes":     len(buf),
			"at":        time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit archive entry failed", slog.String("error", err.Error()))
		}
	}
	a.logger.InfoContext(ctx, "journal archived",
		slog.String("market_id", id.Hex()),
		slog.String("path", p),
		slog.Int("events", len(events)),
	)
	return p, len(events), nil
}

func (a *Archiver) allEvents(ctx context.Context, id domain.MarketID) ([]domain.Event, error) {
	var out []domain.Event
	for offset := 0; ; offset += journalPageSize {
		page, err := a.source.ListEvents(ctx, id, domain.ListOpts{Limit: journalPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive %s events: %w", id.Hex(), err)
		}
		out = append(out, page...)
		if len(page) < journalPageSize {
			return out, nil
		}
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.JournalArchiver = (*Archiver)(nil)
