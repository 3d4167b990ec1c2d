package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tithi/internal/clock"
	giftcarddomain "github.com/smallbiznis/tithi/internal/giftcard/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) giftcarddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("giftcard.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, cardID, bookingID snowflake.ID, amountCents int64) error {
	if amountCents <= 0 {
		return giftcarddomain.ErrInvalidAmount
	}

	card, err := s.loadConsumable(ctx, tx, cardID)
	if err != nil {
		return err
	}

	// Conditional decrement: the balance guard in the WHERE clause makes
	// the update atomic, so two concurrent redemptions cannot both spend
	// the same balance.
	result := tx.WithContext(ctx).Exec(
		`UPDATE gift_cards
		 SET current_balance_cents = current_balance_cents - ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND current_balance_cents >= ?`,
		amountCents,
		card.ID,
		amountCents,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return giftcarddomain.ErrInsufficientBalance
	}

	return s.appendEntry(ctx, tx, card.ID, &bookingID, -amountCents, giftcarddomain.LedgerReasonRedemption)
}

func (s *Service) RestoreTx(ctx context.Context, tx *gorm.DB, cardID, bookingID snowflake.ID, amountCents int64) error {
	if amountCents <= 0 {
		return giftcarddomain.ErrInvalidAmount
	}

	card, err := s.loadConsumable(ctx, tx, cardID)
	if err != nil {
		return err
	}

	// Cap the restore so the balance never exceeds the initial amount.
	delta := amountCents
	if card.CurrentBalanceCents+delta > card.InitialAmountCents {
		delta = card.InitialAmountCents - card.CurrentBalanceCents
	}
	if delta <= 0 {
		return nil
	}

	// Optimistic guard on the balance read above; a concurrent writer
	// invalidates the cap computation, so the update must not apply.
	result := tx.WithContext(ctx).Exec(
		`UPDATE gift_cards
		 SET current_balance_cents = current_balance_cents + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND current_balance_cents = ?`,
		delta,
		card.ID,
		card.CurrentBalanceCents,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return giftcarddomain.ErrBalanceDrift
	}

	return s.appendEntry(ctx, tx, card.ID, &bookingID, delta, giftcarddomain.LedgerReasonRefundRestore)
}

func (s *Service) Adjust(ctx context.Context, businessID snowflake.ID, code string, deltaCents int64) (*giftcarddomain.GiftCard, error) {
	if deltaCents == 0 {
		return nil, giftcarddomain.ErrInvalidAmount
	}

	var updated giftcarddomain.GiftCard
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.findByCode(ctx, tx, businessID, code)
		if err != nil {
			return err
		}
		if card.DiscountType != giftcarddomain.DiscountTypeAmount {
			return giftcarddomain.ErrNotConsumable
		}

		next := card.CurrentBalanceCents + deltaCents
		if next < 0 {
			return giftcarddomain.ErrInsufficientBalance
		}
		if next > card.InitialAmountCents {
			next = card.InitialAmountCents
			deltaCents = next - card.CurrentBalanceCents
		}
		if deltaCents == 0 {
			updated = *card
			return nil
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE gift_cards
			 SET current_balance_cents = ?,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND current_balance_cents = ?`,
			next,
			card.ID,
			card.CurrentBalanceCents,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return giftcarddomain.ErrBalanceDrift
		}

		if err := s.appendEntry(ctx, tx, card.ID, nil, deltaCents, giftcarddomain.LedgerReasonAdminAdjust); err != nil {
			return err
		}

		card.CurrentBalanceCents = next
		updated = *card
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) GetByCode(ctx context.Context, businessID snowflake.ID, code string) (*giftcarddomain.GiftCard, error) {
	return s.findByCode(ctx, s.db, businessID, code)
}

func (s *Service) Reconcile(ctx context.Context, cardID snowflake.ID) (int64, error) {
	var card giftcarddomain.GiftCard
	if err := s.db.WithContext(ctx).First(&card, "id = ?", cardID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, giftcarddomain.ErrNotFound
		}
		return 0, err
	}

	var sum int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta_cents), 0) FROM gift_card_ledger WHERE gift_card_id = ?`,
		cardID,
	).Scan(&sum).Error; err != nil {
		return 0, err
	}

	derived := card.InitialAmountCents + sum
	drift := card.CurrentBalanceCents - derived
	if drift != 0 {
		s.log.Error("gift card balance drift detected",
			zap.String("gift_card_id", cardID.String()),
			zap.Int64("cached", card.CurrentBalanceCents),
			zap.Int64("derived", derived),
		)
		return drift, giftcarddomain.ErrBalanceDrift
	}
	return 0, nil
}

func (s *Service) loadConsumable(ctx context.Context, tx *gorm.DB, cardID snowflake.ID) (*giftcarddomain.GiftCard, error) {
	var card giftcarddomain.GiftCard
	if err := tx.WithContext(ctx).First(&card, "id = ?", cardID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, giftcarddomain.ErrNotFound
		}
		return nil, err
	}
	if card.DiscountType != giftcarddomain.DiscountTypeAmount {
		return nil, giftcarddomain.ErrNotConsumable
	}
	return &card, nil
}

func (s *Service) findByCode(ctx context.Context, tx *gorm.DB, businessID snowflake.ID, code string) (*giftcarddomain.GiftCard, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, giftcarddomain.ErrNotFound
	}

	var card giftcarddomain.GiftCard
	err := tx.WithContext(ctx).
		First(&card, "business_id = ? AND code = ?", businessID, code).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, giftcarddomain.ErrNotFound
		}
		return nil, err
	}
	if !card.IsActive {
		return nil, giftcarddomain.ErrInactive
	}
	if card.ExpiresAt != nil && !card.ExpiresAt.After(s.clock.Now()) {
		return nil, giftcarddomain.ErrExpired
	}
	return &card, nil
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, cardID snowflake.ID, bookingID *snowflake.ID, deltaCents int64, reason giftcarddomain.LedgerReason) error {
	entry := giftcarddomain.LedgerEntry{
		ID:         s.genID.Generate(),
		GiftCardID: cardID,
		BookingID:  bookingID,
		DeltaCents: deltaCents,
		Reason:     reason,
	}
	return tx.WithContext(ctx).Create(&entry).Error
}
