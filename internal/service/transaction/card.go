package transaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type CardFundingRequest struct {
	UserID      uuid.UUID
	WalletID    uuid.UUID
	CardID      string
	Amount      int64
	Reference   string
	Credentials authz.Credentials
}

func cardHoldReference(reference string) string {
	return "card:" + reference
}

// FundCard reserves Amount for a card with a card_funding hold. The card
// network settles it later through SettleCardFunding, which captures the
// hold; until then the wallet's available balance is reduced.
func (s *Service) FundCard(ctx context.Context, req CardFundingRequest) (*domain.Hold, error) {
	if req.CardID == "" {
		return nil, fmt.Errorf("FundCard: %w", domain.NewValidationError("card_id", "is required"))
	}
	w, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("FundCard: %w", err)
	}
	if err := s.authorize(ctx, req.UserID, w, req.Amount, req.Credentials); err != nil {
		return nil, fmt.Errorf("FundCard: %w", err)
	}

	ref := newReference(req.Reference, "card")
	md, err := json.Marshal(domain.CardFundingMetadata{CardID: req.CardID})
	if err != nil {
		return nil, fmt.Errorf("FundCard: %w", err)
	}
	h, err := s.holds.Place(ctx, hold.PlaceRequest{
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reason:    domain.HoldReasonCardFunding,
		Reference: cardHoldReference(ref),
		Metadata:  md,
	})
	if err != nil {
		return nil, fmt.Errorf("FundCard: %w", err)
	}
	return h, nil
}

// SettleCardFunding captures a card funding hold into a completed
// card_funding transaction. The reference is the one FundCard was called
// with. Settling twice replays the first settlement.
func (s *Service) SettleCardFunding(ctx context.Context, reference, providerRef string) (*domain.Transaction, error) {
	h, err := s.holds.GetByReference(ctx, cardHoldReference(reference))
	if err != nil {
		return nil, fmt.Errorf("SettleCardFunding: %w", err)
	}
	w, err := s.wallets.GetByID(ctx, h.WalletID)
	if err != nil {
		return nil, fmt.Errorf("SettleCardFunding: %w", err)
	}
	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, w.Currency)
	if err != nil {
		return nil, fmt.Errorf("SettleCardFunding: %w", err)
	}

	var md domain.CardFundingMetadata
	if len(h.Metadata) > 0 {
		if err := json.Unmarshal(h.Metadata, &md); err != nil {
			return nil, fmt.Errorf("SettleCardFunding: hold metadata: %w", err)
		}
	}

	entry := ledger.Entry{
		Type:        domain.TransactionTypeCardFunding,
		Reference:   reference,
		Currency:    w.Currency,
		Source:      w.ID,
		Dest:        settlement,
		Amount:      h.Amount,
		Primary:     ledger.SideSource,
		Description: "Card funding " + md.CardID,
		Metadata:    domain.NewMetadata(md),
		Actor:       providerActor,
		HoldID:      &h.ID,
	}
	if providerRef != "" {
		entry.ProviderRef = &providerRef
	}

	res, err := s.engine.Apply(ctx, entry, nil)
	if err != nil {
		return nil, fmt.Errorf("SettleCardFunding: %w", err)
	}

	logging.FromContext(ctx).Info("card funding settled",
		"transaction_id", res.Transaction.ID, "hold_id", h.ID, "amount", h.Amount, "replayed", res.Replayed)
	return res.Transaction, nil
}

// UnfundCard releases a card funding hold that has not settled.
func (s *Service) UnfundCard(ctx context.Context, userID, holdID uuid.UUID) (*domain.Hold, error) {
	h, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("UnfundCard: %w", err)
	}
	if _, err := s.ownedWallet(ctx, userID, h.WalletID); err != nil {
		return nil, fmt.Errorf("UnfundCard: %w", domain.ErrHoldNotFound)
	}
	if h.Reason != domain.HoldReasonCardFunding {
		return nil, fmt.Errorf("UnfundCard: %w", domain.NewValidationError("hold_id", "is not a card funding hold"))
	}

	released, err := s.holds.Release(ctx, holdID, "card unfunded by user")
	if err != nil {
		return nil, fmt.Errorf("UnfundCard: %w", err)
	}
	return released, nil
}

// declineCardFunding releases the hold of a funding the card network
// declined.
func (s *Service) declineCardFunding(ctx context.Context, reference, reason string) error {
	h, err := s.holds.GetByReference(ctx, cardHoldReference(reference))
	if err != nil {
		return fmt.Errorf("declineCardFunding: %w", err)
	}
	if reason == "" {
		reason = "declined"
	}
	if _, err := s.holds.Release(ctx, h.ID, "card funding "+reason); err != nil {
		return fmt.Errorf("declineCardFunding: %w", err)
	}
	return nil
}
