package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
)

const (
	ndjson        = "application/x-ndjson"
	pageSize      = 500
	multipartFrom = 8 * 1024 * 1024
)

// ObjectWriter stores archive objects. *Writer satisfies it.
type ObjectWriter interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// BidLister pages through an auction's bids, newest first.
type BidLister interface {
	ListByAuction(ctx context.Context, auctionID int64, opts domain.ListOpts) ([]domain.Bid, error)
}

// AuctionArchiver implements domain.Archiver. It writes the closed auction
// as JSONL: one header line followed by every accepted bid in commit order.
// Archives are write-once; a second call for the same auction is a no-op.
type AuctionArchiver struct {
	writer ObjectWriter
	bids   BidLister
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an AuctionArchiver. audit may be nil.
func NewArchiver(writer ObjectWriter, bids BidLister, audit domain.AuditStore, logger *slog.Logger) *AuctionArchiver {
	return &AuctionArchiver{
		writer: writer,
		bids:   bids,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "archiver")),
	}
}

type archiveHeader struct {
	Type            string    `json:"type"`
	AuctionID       int64     `json:"auction_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	FinalBid        int64     `json:"final_bid"`
	WinnerID        int64     `json:"winner_id,omitempty"`
	BidCount        int64     `json:"bid_count"`
	ReservePrice    int64     `json:"reserve_price"`
	ReserveMet      bool      `json:"reserve_met"`
	BuyerPremiumPct string    `json:"buyer_premium_pct"`
	BuyerPremium    int64     `json:"buyer_premium"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	ArchivedAt      time.Time `json:"archived_at"`
}

type archiveBid struct {
	Type         string    `json:"type"`
	BidID        int64     `json:"bid_id"`
	UserID       int64     `json:"user_id"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
	EndTimeAfter time.Time `json:"end_time_after"`
}

// ArchiveAuction uploads the auction's bid ledger and returns its key.
func (a *AuctionArchiver) ArchiveAuction(ctx context.Context, au domain.Auction) (string, error) {
	path := archivePath(au)

	exists, err := a.writer.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists {
		a.logger.DebugContext(ctx, "archive already present", slog.String("path", path))
		return path, nil
	}

	bids, err := a.allBids(ctx, au.ID)
	if err != nil {
		return "", err
	}

	cfg := au.Config.WithDefaults()
	records := make([]any, 0, len(bids)+1)
	records = append(records, archiveHeader{
		Type:            "auction",
		AuctionID:       au.ID,
		Title:           au.Title,
		Status:          string(au.Status),
		FinalBid:        au.CurrentBid,
		WinnerID:        au.HighestBidderID,
		BidCount:        au.BidCount,
		ReservePrice:    cfg.ReservePrice,
		ReserveMet:      au.BidCount > 0 && au.CurrentBid >= cfg.ReservePrice,
		BuyerPremiumPct: cfg.BuyerPremiumPct.String(),
		BuyerPremium:    auction.BuyerPremium(au.CurrentBid, cfg),
		StartTime:       au.StartTime,
		EndTime:         au.EndTime,
		ArchivedAt:      a.now(),
	})
	for _, b := range bids {
		records = append(records, archiveBid{
			Type:         "bid",
			BidID:        b.ID,
			UserID:       b.UserID,
			Amount:       b.Amount,
			CreatedAt:    b.CreatedAt,
			EndTimeAfter: b.EndTimeAfter,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %d marshal: %w", au.ID, err)
	}

	if len(buf) >= multipartFrom {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %d upload: %w", au.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.auction", map[string]any{
			"auction_id": au.ID,
			"path":       path,
			"bids":       len(bids),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive auction %d audit log: %w", au.ID, err)
		}
	}

	a.logger.InfoContext(ctx, "auction archived",
		slog.Int64("auction_id", au.ID),
		slog.String("path", path),
		slog.Int("bids", len(bids)),
		slog.Int("bytes", len(buf)),
	)
	return path, nil
}

// allBids returns every bid in commit order.
func (a *AuctionArchiver) allBids(ctx context.Context, auctionID int64) ([]domain.Bid, error) {
	var out []domain.Bid
	for offset := 0; ; offset += pageSize {
		page, err := a.bids.ListByAuction(ctx, auctionID, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive auction %d bids: %w", auctionID, err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			break
		}
	}
	slices.Reverse(out)
	return out, nil
}

// archivePath builds the key for an auction archive, partitioned by the
// month the auction ended.
//
//	archive/auctions/2026-09/42.jsonl
func archivePath(au domain.Auction) string {
	return fmt.Sprintf("archive/auctions/%s/%d.jsonl", au.EndTime.UTC().Format("2006-01"), au.ID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
