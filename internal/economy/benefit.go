package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Benefit is the effect category of an item. It is fixed when the item is defined.
type Benefit string

const (
	BenefitCurrency           Benefit = "currency"
	BenefitCurrencyConsumable Benefit = "currency_consumable"
	BenefitDefense            Benefit = "defense"
	BenefitDefenseConsumable  Benefit = "defense_consumable"
	BenefitOffense            Benefit = "offense"
	BenefitOffenseConsumable  Benefit = "offense_consumable"
	BenefitOther              Benefit = "other"
)

// AllBenefits lists every kind effectFor must handle.
var AllBenefits = []Benefit{
	BenefitCurrency,
	BenefitCurrencyConsumable,
	BenefitDefense,
	BenefitDefenseConsumable,
	BenefitOffense,
	BenefitOffenseConsumable,
	BenefitOther,
}

// ParseBenefit accepts the stored names. "other_consumable" was always persisted as
// "other" and is folded into it.
func ParseBenefit(s string) (Benefit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "other_consumable" {
		return BenefitOther, nil
	}
	for _, b := range AllBenefits {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBenefit, s)
}

type stat string

const (
	statPoints  stat = "points"
	statDefense stat = "defense"
	statAttack  stat = "attack"
)

type TerritoryView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Attack  int64  `json:"attack"`
	Defense int64  `json:"defense"`
}

type UseResult struct {
	Item      string         `json:"item"`
	Benefit   Benefit        `json:"benefit"`
	Stat      string         `json:"stat"`
	Gained    int64          `json:"gained"`
	Consumed  bool           `json:"consumed"`
	Remaining int64          `json:"remaining"`
	Points    int64          `json:"points"`
	Territory *TerritoryView `json:"territory,omitempty"`
}

type useContext struct {
	tx      Tx
	actor   int64
	holding Holding
}

type effect interface {
	apply(ctx context.Context, u *useContext) (UseResult, error)
}

// effectFor is the single dispatch point from stored kind to behavior. A kind added to
// AllBenefits without a case here fails TestEffectForCoversAllBenefits.
func effectFor(b Benefit) (effect, error) {
	switch b {
	case BenefitCurrency, BenefitCurrencyConsumable:
		// Both variants consume a unit; the non-consumable kind never behaved differently.
		return currencyEffect{}, nil
	case BenefitDefense:
		return fortifyEffect{target: statDefense, reusable: true}, nil
	case BenefitDefenseConsumable:
		return fortifyEffect{target: statDefense}, nil
	case BenefitOffense:
		return fortifyEffect{target: statAttack, reusable: true}, nil
	case BenefitOffenseConsumable:
		return fortifyEffect{target: statAttack}, nil
	case BenefitOther:
		return inertEffect{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBenefit, b)
}

type currencyEffect struct{}

func (currencyEffect) apply(ctx context.Context, u *useContext) (UseResult, error) {
	h := u.holding
	out := UseResult{Item: h.Name, Benefit: h.Benefit, Stat: string(statPoints), Gained: h.Value, Consumed: true}

	remaining, err := u.tx.RemoveHolding(ctx, UserOwner(u.actor), h.ID)
	if err != nil {
		return out, err
	}
	out.Remaining = remaining

	points, err := lockPoints(ctx, u.tx, u.actor)
	if err != nil {
		return out, err
	}
	points, ok := addBalance(points, h.Value)
	if !ok {
		return out, capacityViolation("Using `%s` would overflow your reputation.", h.Name)
	}
	if err := u.tx.SetPoints(ctx, u.actor, points); err != nil {
		return out, err
	}
	if err := u.tx.AppendEntry(ctx, Entry{Owner: UserOwner(u.actor), Action: "use:" + h.Name, Delta: h.Value, Balance: points}); err != nil {
		return out, err
	}
	out.Points = points
	return out, nil
}

// fortifyEffect raises a territory's attack or defense. The reusable variant keeps the
// item and charges its cost in points on every use; the consumable variant spends a unit.
type fortifyEffect struct {
	target   stat
	reusable bool
}

func (e fortifyEffect) apply(ctx context.Context, u *useContext) (UseResult, error) {
	h := u.holding
	out := UseResult{Item: h.Name, Benefit: h.Benefit, Stat: string(e.target), Gained: h.Value, Remaining: h.Quantity}

	member, err := u.tx.Member(ctx, u.actor)
	if errors.Is(err, ErrNoRows) {
		return out, notFound("You must be in a gang to use `%s`.", h.Name)
	}
	if err != nil {
		return out, err
	}

	if e.reusable {
		points, err := lockPoints(ctx, u.tx, u.actor)
		if err != nil {
			return out, err
		}
		if points < h.Cost {
			return out, insufficient("You do not have enough rep to use `%s`. You need %d rep, and have %d.", h.Name, h.Cost, points)
		}
		points -= h.Cost
		if err := u.tx.SetPoints(ctx, u.actor, points); err != nil {
			return out, err
		}
		if err := u.tx.AppendEntry(ctx, Entry{Owner: UserOwner(u.actor), Action: "use:" + h.Name, Delta: -h.Cost, Balance: points}); err != nil {
			return out, err
		}
		out.Points = points
	} else {
		remaining, err := u.tx.RemoveHolding(ctx, UserOwner(u.actor), h.ID)
		if err != nil {
			return out, err
		}
		out.Consumed = true
		out.Remaining = remaining
		points, err := u.tx.Points(ctx, u.actor)
		if err != nil && !errors.Is(err, ErrNoRows) {
			return out, err
		}
		out.Points = points
	}

	var territory Territory
	switch e.target {
	case statDefense:
		territory, err = u.tx.LockDefendedTerritory(ctx, member.Gang)
		if errors.Is(err, ErrNoRows) {
			return out, notFound("Your gang is not defending a territory right now.")
		}
	case statAttack:
		territory, err = u.tx.LockRaidedTerritory(ctx, member.Gang)
		if errors.Is(err, ErrNoRows) {
			return out, notFound("Your gang is not raiding a territory right now.")
		}
	default:
		return out, fmt.Errorf("fortify: unexpected target %q", e.target)
	}
	if err != nil {
		return out, err
	}

	field := &territory.Attack
	if e.target == statDefense {
		field = &territory.Defense
	}
	raised, ok := addBalance(*field, h.Value)
	if !ok {
		return out, capacityViolation("Territory `%s` cannot hold more %s.", territory.Name, e.target)
	}
	*field = raised
	if err := u.tx.SetTerritoryStrength(ctx, territory.ID, territory.Attack, territory.Defense); err != nil {
		return out, err
	}
	out.Territory = &TerritoryView{ID: territory.ID, Name: territory.Name, Attack: territory.Attack, Defense: territory.Defense}
	return out, nil
}

type inertEffect struct{}

func (inertEffect) apply(_ context.Context, u *useContext) (UseResult, error) {
	return UseResult{Item: u.holding.Name, Benefit: u.holding.Benefit}, notUsable(u.holding.Name)
}

func notUsable(name string) *Failure {
	return invalidState("You cannot use `%s`. It is not a usable item.", name)
}

func lockPoints(ctx context.Context, tx Tx, userID int64) (int64, error) {
	points, err := tx.LockPoints(ctx, userID)
	if errors.Is(err, ErrNoRows) {
		return 0, notFound("User `%d` has no reputation record.", userID)
	}
	return points, err
}
