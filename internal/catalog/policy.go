package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Role string

const (
	RoleMaster   Role = "master"
	RoleFollower Role = "follower"
)

// Outcome reasons reported by a Policy when a listing is not saved.
const (
	ReasonNotInMaster = "not_in_master"
	ReasonDBError     = "db_error"
	ReasonException   = "exception"
)

type Outcome struct {
	Saved  bool   `json:"saved"`
	Reason string `json:"reason,omitempty"`
}

// Policy decides whether a listing observed at a merchant is written.
// Save never returns an error: persistence failures become an Outcome.
type Policy interface {
	Role() Role
	Save(ctx context.Context, l Listing, merchantID int64, observedAt time.Time) Outcome
}

// PolicyFor returns the policy for the given role. Unknown roles get the
// follower policy since it cannot create catalog entries.
func PolicyFor(role Role, repo Repository) Policy {
	if role == RoleMaster {
		return &MasterPolicy{repo: repo}
	}
	return &FollowerPolicy{repo: repo}
}

// MasterPolicy creates or refreshes catalog membership for every listing.
type MasterPolicy struct {
	repo Repository
}

func NewMasterPolicy(repo Repository) *MasterPolicy { return &MasterPolicy{repo: repo} }

func (p *MasterPolicy) Role() Role { return RoleMaster }

func (p *MasterPolicy) Save(ctx context.Context, l Listing, merchantID int64, observedAt time.Time) (out Outcome) {
	defer recoverOutcome(&out, l.Code, merchantID)

	prod := l.Product()
	if err := p.repo.UpsertProduct(ctx, &prod); err != nil {
		return dbError(err, l.Code, merchantID)
	}
	if err := recordObservation(ctx, p.repo, l, merchantID, observedAt); err != nil {
		return dbError(err, l.Code, merchantID)
	}
	return Outcome{Saved: true}
}

// FollowerPolicy only attaches observations to products the master knows.
type FollowerPolicy struct {
	repo Repository
}

func NewFollowerPolicy(repo Repository) *FollowerPolicy { return &FollowerPolicy{repo: repo} }

func (p *FollowerPolicy) Role() Role { return RoleFollower }

func (p *FollowerPolicy) Save(ctx context.Context, l Listing, merchantID int64, observedAt time.Time) (out Outcome) {
	defer recoverOutcome(&out, l.Code, merchantID)

	existing, err := p.repo.GetProduct(ctx, l.Code)
	if err != nil {
		return dbError(err, l.Code, merchantID)
	}
	if existing == nil {
		return Outcome{Reason: ReasonNotInMaster}
	}
	if err := recordObservation(ctx, p.repo, l, merchantID, observedAt); err != nil {
		return dbError(err, l.Code, merchantID)
	}
	return Outcome{Saved: true}
}

func recordObservation(ctx context.Context, repo Repository, l Listing, merchantID int64, observedAt time.Time) error {
	snap := l.Snapshot(merchantID, observedAt)
	id, err := repo.UpsertMerchantProduct(ctx, &snap)
	if err != nil {
		return fmt.Errorf("upsert merchant product: %w", err)
	}
	entry := &PriceHistoryEntry{
		MerchantProductID: id,
		Price:             l.Price,
		ListPrice:         l.ListPrice,
		ObservedAt:        observedAt,
	}
	if err := repo.AppendPriceHistory(ctx, entry); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

func dbError(err error, code string, merchantID int64) Outcome {
	slog.Error("save listing", "code", code, "merchant", merchantID, "error", err)
	return Outcome{Reason: ReasonDBError}
}

func recoverOutcome(out *Outcome, code string, merchantID int64) {
	if r := recover(); r != nil {
		slog.Error("save listing panicked", "code", code, "merchant", merchantID, "panic", r)
		*out = Outcome{Reason: ReasonException}
	}
}
