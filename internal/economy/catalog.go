package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type InventoryView struct {
	Scope   Scope     `json:"scope"`
	Owner   string    `json:"owner"`
	Balance int64     `json:"balance"`
	Items   []Holding `json:"items"`
}

type CatalogView struct {
	Scope Scope  `json:"scope"`
	Items []Item `json:"items"`
}

type ItemView struct {
	Item
	Owned int64 `json:"owned"`
}

// Suggestion is an autocomplete choice: Label is shown, Name is submitted.
type Suggestion struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Service) Inventory(ctx context.Context, actor int64, scope Scope) (out InventoryView, err error) {
	ctx, span := s.startSpan(ctx, "Inventory")
	defer func() { endSpan(span, err) }()

	out.Scope = scope
	err = s.store.Snapshot(ctx, func(r Reader) error {
		owner := UserOwner(actor)
		if scope == ScopeGang {
			member, err := standing(ctx, r, actor, scope, "view")
			if err != nil {
				return err
			}
			owner = GangOwner(member.Gang)
		}
		out.Owner = owner.String()

		var err error
		if scope == ScopeGang {
			out.Balance, err = r.Control(ctx, owner.Gang)
		} else {
			out.Balance, err = r.Points(ctx, owner.UserID)
		}
		if err != nil && !errors.Is(err, ErrNoRows) {
			return err
		}
		out.Items, err = r.Holdings(ctx, owner)
		return err
	})
	return out, err
}

func (s *Service) Catalog(ctx context.Context, actor int64, scope Scope) (out CatalogView, err error) {
	ctx, span := s.startSpan(ctx, "Catalog")
	defer func() { endSpan(span, err) }()

	out.Scope = scope
	err = s.store.Snapshot(ctx, func(r Reader) error {
		if _, err := standing(ctx, r, actor, scope, "view"); err != nil {
			return err
		}
		var err error
		out.Items, err = r.Items(ctx, scope)
		return err
	})
	return out, err
}

func (s *Service) Item(ctx context.Context, actor int64, scope Scope, name string) (out ItemView, err error) {
	ctx, span := s.startSpan(ctx, "Item")
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	err = s.store.Snapshot(ctx, func(r Reader) error {
		member, err := standing(ctx, r, actor, scope, "view")
		if err != nil {
			return err
		}
		holding, err := r.Holding(ctx, ownerFor(scope, actor, member), name)
		if err == nil {
			out = ItemView{Item: holding.Item, Owned: holding.Quantity}
			return nil
		}
		if !errors.Is(err, ErrNoRows) {
			return err
		}
		item, err := r.ItemByName(ctx, scope, name)
		if errors.Is(err, ErrNoRows) {
			return notFound("The item `%s` does not exist.", name)
		}
		if err != nil {
			return err
		}
		out = ItemView{Item: item}
		return nil
	})
	return out, err
}

// CatalogSuggestions lists purchasable items whose name starts with prefix. Callers
// without standing get an empty list rather than a failure.
func (s *Service) CatalogSuggestions(ctx context.Context, actor int64, scope Scope, prefix string) ([]Suggestion, error) {
	out := []Suggestion{}
	err := s.store.Snapshot(ctx, func(r Reader) error {
		if _, err := standing(ctx, r, actor, scope, "view"); err != nil {
			if _, ok := AsFailure(err); ok {
				return nil
			}
			return err
		}
		items, err := r.Items(ctx, scope)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !strings.HasPrefix(it.Name, prefix) {
				continue
			}
			out = append(out, Suggestion{Name: it.Name, Label: fmt.Sprintf("%s - Cost: %d", it.Name, it.Cost)})
			if len(out) == MaxSuggestions {
				break
			}
		}
		return nil
	})
	return out, err
}

// OwnedSuggestions lists items the actor (or the actor's gang) holds.
func (s *Service) OwnedSuggestions(ctx context.Context, actor int64, scope Scope, prefix string) ([]Suggestion, error) {
	out := []Suggestion{}
	err := s.store.Snapshot(ctx, func(r Reader) error {
		member, err := standing(ctx, r, actor, scope, "view")
		if err != nil {
			if _, ok := AsFailure(err); ok {
				return nil
			}
			return err
		}
		holdings, err := r.Holdings(ctx, ownerFor(scope, actor, member))
		if err != nil {
			return err
		}
		for _, h := range holdings {
			if !strings.HasPrefix(h.Name, prefix) {
				continue
			}
			out = append(out, Suggestion{Name: h.Name, Label: fmt.Sprintf("%s - Cost: %d", h.Name, h.Cost)})
			if len(out) == MaxSuggestions {
				break
			}
		}
		return nil
	})
	return out, err
}

// SyncCatalog upserts definitions by name in one transaction. Items not listed are left
// alone so existing inventories keep their references.
func (s *Service) SyncCatalog(ctx context.Context, scope Scope, defs []ItemDef) (n int, err error) {
	ctx, span := s.startSpan(ctx, "SyncCatalog")
	defer func() { endSpan(span, err) }()

	for i := range defs {
		defs[i].Name = strings.TrimSpace(defs[i].Name)
		if err := defs[i].Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		defs[i].Benefit, _ = ParseBenefit(string(defs[i].Benefit))
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		for _, d := range defs {
			if err := tx.UpsertItem(ctx, scope, d); err != nil {
				return fmt.Errorf("upsert %s item %q: %w", scope, d.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(defs), nil
}
