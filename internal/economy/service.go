package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Event describes an administrative mutation after it committed.
type Event struct {
	Action  string
	Actor   int64
	Subject string
	Detail  string
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Service is the transaction executor: the only code path that mutates balances,
// inventories, territories and pools. It keeps no state between calls.
type Service struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
	tracer   trace.Tracer
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		log:    logger,
		tracer: otel.Tracer("guildbank/economy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type TradeInput struct {
	Actor          int64
	Scope          Scope
	Item           string
	IdempotencyKey string
}

type TradeResult struct {
	Scope    Scope  `json:"scope"`
	Item     string `json:"item"`
	Quantity int64  `json:"quantity"`
	Amount   int64  `json:"amount"`
	Balance  int64  `json:"balance"`
}

type GiftInput struct {
	Actor          int64
	Target         int64
	Item           string
	IdempotencyKey string
}

type GiftResult struct {
	Item           string `json:"item"`
	Target         int64  `json:"target"`
	SenderQuantity int64  `json:"sender_quantity"`
	TargetQuantity int64  `json:"target_quantity"`
}

type UseInput struct {
	Actor          int64
	Item           string
	IdempotencyKey string
}

type AdjustInput struct {
	Admin          int64
	Target         int64
	Delta          int64
	IdempotencyKey string
}

type AdjustResult struct {
	UserID   int64 `json:"user_id"`
	Points   int64 `json:"points"`
	Applied  int64 `json:"applied"`
	Overflow int64 `json:"overflow"`
}

func (s *Service) EnsureUser(ctx context.Context, userID int64) (created bool, err error) {
	ctx, span := s.startSpan(ctx, "EnsureUser")
	defer func() { endSpan(span, err) }()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		created, err = tx.EnsureUser(ctx, userID)
		return err
	})
	return created, err
}

// PruneIdempotencyKeys forgets keys claimed before the cutoff. A request replayed with
// a pruned key runs again.
func (s *Service) PruneIdempotencyKeys(ctx context.Context, before time.Time) (pruned int64, err error) {
	ctx, span := s.startSpan(ctx, "PruneIdempotencyKeys")
	defer func() { endSpan(span, err) }()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		pruned, err = tx.PruneIdempotency(ctx, before)
		return err
	})
	span.SetAttributes(attribute.Int64("pruned", pruned))
	return pruned, err
}

func (s *Service) BuyItem(ctx context.Context, in TradeInput) (out TradeResult, err error) {
	ctx, span := s.startSpan(ctx, "BuyItem", attribute.String("scope", string(in.Scope)))
	defer func() { endSpan(span, err) }()

	in.Item = strings.TrimSpace(in.Item)
	out.Scope, out.Item = in.Scope, in.Item
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.Actor, in.IdempotencyKey, "buy"); err != nil {
			return err
		}
		member, err := standing(ctx, tx, in.Actor, in.Scope, "buy")
		if err != nil {
			return err
		}
		item, err := tx.ItemByName(ctx, in.Scope, in.Item)
		if errors.Is(err, ErrNoRows) {
			return notFound("The item `%s` you requested doesn't exist.", in.Item)
		}
		if err != nil {
			return err
		}

		owner := ownerFor(in.Scope, in.Actor, member)
		qty, err := tx.AddHolding(ctx, owner, item.ID, 1)
		if err != nil {
			return err
		}
		balance, err := lockBalance(ctx, tx, owner)
		if err != nil {
			return err
		}
		if balance < item.Cost {
			return insufficient("%s enough %s to buy that. (Have: %d, Need: %d)", ownerLacks(owner), resourceName(owner), balance, item.Cost)
		}
		balance -= item.Cost
		if err := setBalance(ctx, tx, owner, balance); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, Entry{Owner: owner, Action: "buy:" + item.Name, Delta: -item.Cost, Balance: balance}); err != nil {
			return err
		}
		out.Quantity, out.Amount, out.Balance = qty, item.Cost, balance
		return nil
	})
	return out, err
}

func (s *Service) SellItem(ctx context.Context, in TradeInput) (out TradeResult, err error) {
	ctx, span := s.startSpan(ctx, "SellItem", attribute.String("scope", string(in.Scope)))
	defer func() { endSpan(span, err) }()

	in.Item = strings.TrimSpace(in.Item)
	out.Scope, out.Item = in.Scope, in.Item
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.Actor, in.IdempotencyKey, "sell"); err != nil {
			return err
		}
		owner := UserOwner(in.Actor)
		if in.Scope == ScopeGang {
			member, err := standing(ctx, tx, in.Actor, in.Scope, "sell")
			if err != nil {
				return err
			}
			owner = GangOwner(member.Gang)
		}

		holding, err := tx.LockHolding(ctx, owner, in.Item)
		if errors.Is(err, ErrNoRows) {
			return notFound("%s any `%s` to sell, or it doesn't exist.", ownerLacks(owner), in.Item)
		}
		if err != nil {
			return err
		}
		remaining, err := tx.RemoveHolding(ctx, owner, holding.ID)
		if err != nil {
			return err
		}
		refund := SellRefund(holding.Cost)
		balance, err := lockBalance(ctx, tx, owner)
		if err != nil {
			return err
		}
		balance += refund
		if err := setBalance(ctx, tx, owner, balance); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, Entry{Owner: owner, Action: "sell:" + holding.Name, Delta: refund, Balance: balance}); err != nil {
			return err
		}
		out.Quantity, out.Amount, out.Balance = remaining, refund, balance
		return nil
	})
	return out, err
}

func (s *Service) GiftItem(ctx context.Context, in GiftInput) (out GiftResult, err error) {
	ctx, span := s.startSpan(ctx, "GiftItem")
	defer func() { endSpan(span, err) }()

	in.Item = strings.TrimSpace(in.Item)
	out.Item, out.Target = in.Item, in.Target
	if in.Actor == in.Target {
		return out, invalidState("You cannot gift items to yourself.")
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.Actor, in.IdempotencyKey, "gift"); err != nil {
			return err
		}
		member, err := tx.Member(ctx, in.Actor)
		if err != nil && !errors.Is(err, ErrNoRows) {
			return err
		}
		if errors.Is(err, ErrNoRows) || !member.InLeadership() {
			return invalidState("You are not in the leadership of a gang, you cannot gift items.")
		}
		if _, err := tx.Points(ctx, in.Target); errors.Is(err, ErrNoRows) {
			return notFound("User `%d` has no reputation record.", in.Target)
		} else if err != nil {
			return err
		}

		sender, recipient := UserOwner(in.Actor), UserOwner(in.Target)
		// Rows are touched in ascending owner order so crossing gifts cannot deadlock.
		if recipient.Less(sender) {
			item, err := tx.ItemByName(ctx, ScopeUser, in.Item)
			if errors.Is(err, ErrNoRows) {
				return notFound("You don't have any `%s` to gift, or it doesn't exist.", in.Item)
			}
			if err != nil {
				return err
			}
			if out.TargetQuantity, err = tx.AddHolding(ctx, recipient, item.ID, 1); err != nil {
				return err
			}
			if out.SenderQuantity, err = removeOwned(ctx, tx, sender, in.Item, "gift"); err != nil {
				return err
			}
			return nil
		}
		if out.SenderQuantity, err = removeOwned(ctx, tx, sender, in.Item, "gift"); err != nil {
			return err
		}
		item, err := tx.ItemByName(ctx, ScopeUser, in.Item)
		if err != nil {
			return err
		}
		out.TargetQuantity, err = tx.AddHolding(ctx, recipient, item.ID, 1)
		return err
	})
	return out, err
}

func (s *Service) UseItem(ctx context.Context, in UseInput) (out UseResult, err error) {
	ctx, span := s.startSpan(ctx, "UseItem")
	defer func() { endSpan(span, err) }()

	in.Item = strings.TrimSpace(in.Item)
	out.Item = in.Item
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.Actor, in.IdempotencyKey, "use"); err != nil {
			return err
		}
		holding, err := tx.LockHolding(ctx, UserOwner(in.Actor), in.Item)
		if errors.Is(err, ErrNoRows) {
			item, lookupErr := tx.ItemByName(ctx, ScopeUser, in.Item)
			if lookupErr == nil && item.Benefit == BenefitOther {
				return notUsable(item.Name)
			}
			if lookupErr != nil && !errors.Is(lookupErr, ErrNoRows) {
				return lookupErr
			}
			return notFound("You don't have any `%s` to use, or it doesn't exist.", in.Item)
		}
		if err != nil {
			return err
		}
		eff, err := effectFor(holding.Benefit)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("benefit", string(holding.Benefit)))
		out, err = eff.apply(ctx, &useContext{tx: tx, actor: in.Actor, holding: holding})
		return err
	})
	return out, err
}

// AdjustPoints adds delta to a user's reputation. The caller has already checked the
// admin's privileges. Removals larger than the balance clamp at zero and report the
// excess as overflow.
func (s *Service) AdjustPoints(ctx context.Context, in AdjustInput) (out AdjustResult, err error) {
	ctx, span := s.startSpan(ctx, "AdjustPoints")
	defer func() { endSpan(span, err) }()

	out.UserID = in.Target
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.Admin, in.IdempotencyKey, "adjust_points"); err != nil {
			return err
		}
		points, err := tx.LockPoints(ctx, in.Target)
		if errors.Is(err, ErrNoRows) {
			return notFound("User `%d` not found as active.", in.Target)
		}
		if err != nil {
			return err
		}
		if in.Delta == math.MinInt64 {
			return capacityViolation("Cannot remove %d reputation at once.", in.Delta)
		}
		next, ok := addBalance(points, in.Delta)
		if !ok {
			return capacityViolation("User `%d` cannot hold that much reputation. (Have: %d, Adding: %d)", in.Target, points, in.Delta)
		}
		applied := in.Delta
		if next < 0 {
			out.Overflow = -next
			applied = -points
			next = 0
		}
		points = next
		if err := tx.SetPoints(ctx, in.Target, points); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, Entry{Owner: UserOwner(in.Target), Action: "admin_adjust", Delta: applied, Balance: points}); err != nil {
			return err
		}
		out.Points, out.Applied = points, applied
		return nil
	})
	if err != nil {
		return AdjustResult{UserID: in.Target}, err
	}
	if out.Overflow > 0 {
		s.log.Warn("reputation removal overflow", "user_id", in.Target, "requested", in.Delta, "applied", out.Applied, "overflow", out.Overflow)
	}
	s.notify(ctx, Event{
		Action:  "reputation.adjust",
		Actor:   in.Admin,
		Subject: fmt.Sprintf("user %d", in.Target),
		Detail:  fmt.Sprintf("now has %d reputation (%+d applied, %d overflow)", out.Points, out.Applied, out.Overflow),
	})
	return out, nil
}

func (s *Service) Reputation(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := s.store.Snapshot(ctx, func(r Reader) error {
		var err error
		points, err = r.Points(ctx, userID)
		if errors.Is(err, ErrNoRows) {
			return notFound("User `%d` not found as active.", userID)
		}
		return err
	})
	return points, err
}

type GangStanding struct {
	Gang       string `json:"gang"`
	Control    int64  `json:"control"`
	Leader     bool   `json:"leader"`
	Leadership bool   `json:"leadership"`
}

func (s *Service) GangControl(ctx context.Context, userID int64) (GangStanding, error) {
	var out GangStanding
	err := s.store.Snapshot(ctx, func(r Reader) error {
		member, err := r.Member(ctx, userID)
		if errors.Is(err, ErrNoRows) {
			return notFound("You are not in a gang.")
		}
		if err != nil {
			return err
		}
		out = GangStanding{Gang: member.Gang, Leader: member.Leader, Leadership: member.Leadership}
		out.Control, err = r.Control(ctx, member.Gang)
		if errors.Is(err, ErrNoRows) {
			return notFound("Gang `%s` not found.", member.Gang)
		}
		return err
	})
	return out, err
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "economy."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		if f, ok := AsFailure(err); ok {
			span.SetAttributes(attribute.String("failure.kind", string(f.Kind)))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func (s *Service) notify(ctx context.Context, e Event) {
	s.log.Info("admin action", "action", e.Action, "actor", e.Actor, "subject", e.Subject)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Warn("program log notify failed", "action", e.Action, "err", err)
	}
}

func claim(ctx context.Context, tx Tx, actor int64, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ok, err := tx.ClaimIdempotency(ctx, actor, key, action)
	if err != nil {
		return err
	}
	if !ok {
		return invalidState("This request was already processed.")
	}
	return nil
}

func standing(ctx context.Context, r Reader, actor int64, scope Scope, verb string) (Member, error) {
	member, err := r.Member(ctx, actor)
	if err != nil && !errors.Is(err, ErrNoRows) {
		return member, err
	}
	missing := errors.Is(err, ErrNoRows)
	switch scope {
	case ScopeGang:
		if missing || !member.InLeadership() {
			return member, unauthorized("You are not in the leadership of a gang, you cannot %s gang items.", verb)
		}
	default:
		if missing {
			return member, unauthorized("You must be in a gang to %s items.", verb)
		}
	}
	return member, nil
}

func ownerFor(scope Scope, actor int64, member Member) Owner {
	if scope == ScopeGang {
		return GangOwner(member.Gang)
	}
	return UserOwner(actor)
}

func ownerLacks(o Owner) string {
	if o.Scope == ScopeGang {
		return "Your gang doesn't have"
	}
	return "You don't have"
}

func resourceName(o Owner) string {
	if o.Scope == ScopeGang {
		return "control"
	}
	return "rep"
}

func lockBalance(ctx context.Context, tx Tx, o Owner) (int64, error) {
	if o.Scope != ScopeGang {
		return lockPoints(ctx, tx, o.UserID)
	}
	control, err := tx.LockControl(ctx, o.Gang)
	if errors.Is(err, ErrNoRows) {
		return 0, notFound("Gang `%s` not found.", o.Gang)
	}
	return control, err
}

func setBalance(ctx context.Context, tx Tx, o Owner, v int64) error {
	if v < 0 {
		return fmt.Errorf("refusing to store negative balance %d for %s", v, o)
	}
	if o.Scope == ScopeGang {
		return tx.SetControl(ctx, o.Gang, v)
	}
	return tx.SetPoints(ctx, o.UserID, v)
}

func removeOwned(ctx context.Context, tx Tx, owner Owner, name, verb string) (int64, error) {
	holding, err := tx.LockHolding(ctx, owner, name)
	if errors.Is(err, ErrNoRows) {
		return 0, notFound("You don't have any `%s` to %s, or it doesn't exist.", name, verb)
	}
	if err != nil {
		return 0, err
	}
	return tx.RemoveHolding(ctx, owner, holding.ID)
}

func poolDetail(p Pool) string {
	return fmt.Sprintf("level %d, %d/%d rep (base %d), reward %q, %d required roles", p.Level, p.Current, p.Cap, p.Start, p.Reward, len(p.RequiredRoles))
}

func roleMention(role int64) string {
	return fmt.Sprintf("role %d", role)
}
