package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/maqzone/livebid/internal/domain"
	"github.com/maqzone/livebid/internal/store/memory"
)

type memWriter struct {
	objects   map[string][]byte
	puts      int
	multipart int
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.multipart++
	return nil
}

func (m *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveAuction(t *testing.T) {
	ctx := context.Background()
	end := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	auctions := memory.NewAuctionStore()
	auctions.Put(domain.Auction{ID: 42, Title: "Wheel loader", Status: domain.AuctionStatusActive, CurrentBid: 100000, EndTime: end})
	bids := memory.NewBidStore(auctions)
	for i, amount := range []int64{101000, 102000, 110000} {
		a, err := auctions.GetByID(ctx, 42)
		assert.NoError(t, err)
		_, _, err = bids.Commit(ctx, domain.BidCommit{
			AuctionID:       42,
			UserID:          int64(5 + i%2),
			Amount:          amount,
			At:              end.Add(-time.Duration(10-i) * time.Minute),
			NewEndTime:      end,
			ExpectedVersion: a.Version,
		})
		assert.NoError(t, err)
	}
	final, err := auctions.GetByID(ctx, 42)
	assert.NoError(t, err)
	final.Status = domain.AuctionStatusClosed

	w := &memWriter{objects: map[string][]byte{}}
	audit := memory.NewAuditStore()
	arch := NewArchiver(w, bids, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	path, err := arch.ArchiveAuction(ctx, final)
	assert.NoError(t, err)
	check.Equal(t, "archive/auctions/2026-09/42.jsonl", path)

	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	assert.True(t, sc.Scan())
	var header archiveHeader
	assert.NoError(t, json.Unmarshal(sc.Bytes(), &header))
	var lines []archiveBid
	for sc.Scan() {
		var rec archiveBid
		assert.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}

	check.Equal(t, "auction", header.Type)
	check.Equal(t, int64(110000), header.FinalBid)
	check.Equal(t, int64(15400), header.BuyerPremium)
	check.Equal(t, "14", header.BuyerPremiumPct)
	check.Equal(t, int64(3), header.BidCount)
	assert.Equal(t, 3, len(lines))
	check.Equal(t, "bid", lines[0].Type)
	check.Equal(t, int64(101000), lines[0].Amount)
	check.Equal(t, int64(110000), lines[2].Amount)

	// Write-once.
	again, err := arch.ArchiveAuction(ctx, final)
	assert.NoError(t, err)
	check.Equal(t, path, again)
	check.Equal(t, 1, w.puts)

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	assert.NoError(t, err)
	check.Equal(t, 1, len(entries))
}

func TestArchivePathUsesEndMonth(t *testing.T) {
	a := domain.Auction{ID: 7, EndTime: time.Date(2027, 1, 31, 23, 0, 0, 0, time.UTC)}
	check.Equal(t, "archive/auctions/2027-01/7.jsonl", archivePath(a))
}
