// Package notify tells operators about auction lifecycle milestones over
// chat webhooks. Each message goes to every registered sender; the event
// filter lets operators opt in to only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maqzone/livebid/internal/auction"
	"github.com/maqzone/livebid/internal/domain"
)

// Event types accepted by the filter.
const (
	EventAuctionActivated = "auction_activated"
	EventAuctionClosed    = "auction_closed"
	EventArchiveFailed    = "archive_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// AuctionActivated announces that bidding has opened.
func (n *Notifier) AuctionActivated(ctx context.Context, a domain.Auction) error {
	title := fmt.Sprintf("Auction #%d open", a.ID)
	msg := fmt.Sprintf("%s\nCloses %s", displayTitle(a), a.EndTime.UTC().Format("2006-01-02 15:04 MST"))
	return n.Notify(ctx, EventAuctionActivated, title, msg)
}

// AuctionClosed announces the result of a finished auction. archivePath
// may be empty when archiving is disabled or failed.
func (n *Notifier) AuctionClosed(ctx context.Context, a domain.Auction, archivePath string) error {
	title := fmt.Sprintf("Auction #%d closed", a.ID)
	var b strings.Builder
	b.WriteString(displayTitle(a))
	b.WriteByte('\n')
	cfg := a.Config.WithDefaults()
	switch {
	case a.BidCount == 0:
		b.WriteString("No bids")
	default:
		fmt.Fprintf(&b, "Hammer %s to bidder #%d after %d bids\n",
			auction.FormatMoney(a.CurrentBid), a.HighestBidderID, a.BidCount)
		fmt.Fprintf(&b, "Buyer premium %s%% = %s",
			cfg.BuyerPremiumPct.String(), auction.FormatMoney(auction.BuyerPremium(a.CurrentBid, cfg)))
		if cfg.ReservePrice > 0 && a.CurrentBid < cfg.ReservePrice {
			fmt.Fprintf(&b, "\nReserve %s not met", auction.FormatMoney(cfg.ReservePrice))
		}
	}
	if archivePath != "" {
		fmt.Fprintf(&b, "\nArchive: %s", archivePath)
	}
	return n.Notify(ctx, EventAuctionClosed, title, b.String())
}

// ArchiveFailed flags an auction whose bid ledger could not be archived.
func (n *Notifier) ArchiveFailed(ctx context.Context, a domain.Auction, cause error) error {
	return n.Notify(ctx, EventArchiveFailed,
		fmt.Sprintf("Archive failed for auction #%d", a.ID), cause.Error())
}

func displayTitle(a domain.Auction) string {
	if a.Title == "" {
		return fmt.Sprintf("Lot %d", a.ID)
	}
	return a.Title
}

// dispatch sends to every sender. One sender failing does not stop the
// others; failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
