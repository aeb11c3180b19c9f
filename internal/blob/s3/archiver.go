package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres and memory stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides read access to settled markets for archival.
type MarketArchiveStore interface {
	// ListResolvedBefore returns all markets resolved strictly before the
	// given cutoff time.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// BetArchiveStore provides read access to bets for archival.
type BetArchiveStore interface {
	ListByMarket(ctx context.Context, marketID uint64) ([]domain.Bet, error)
}

// marketSnapshot is one JSONL record: a settled market together with every
// bet placed on it.
type marketSnapshot struct {
	Market domain.Market `json:"market"`
	Bets   []domain.Bet  `json:"bets"`
}

// ArchiveImpl implements domain.Archiver by querying the stores for settled
// markets, serializing each market with its bets to JSONL, and uploading the
// result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets MarketArchiveStore
	bets    BetArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	bets BetArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		bets:    bets,
		audit:   audit,
	}
}

// ArchiveResolved queries all markets resolved before the cutoff, serializes
// each one together with its bets to JSONL, and uploads the file to S3 at
// archive/markets/YYYY-MM.jsonl. The archival event is recorded in the audit
// log and the count of archived markets is returned.
func (a *ArchiveImpl) ArchiveResolved(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	snapshots := make([]marketSnapshot, 0, len(markets))
	for _, m := range markets {
		bets, err := a.bets.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive bets query for market %d: %w", m.ID, err)
		}
		snapshots = append(snapshots, marketSnapshot{Market: m, Bets: bets})
	}

	buf, err := marshalJSONL(snapshots)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	count := int64(len(markets))

	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
