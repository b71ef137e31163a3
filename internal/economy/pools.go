package economy

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"
)

type Pool struct {
	Name          string  `json:"name"`
	Cap           int64   `json:"cap"`
	Reward        string  `json:"reward"`
	RequiredRoles []int64 `json:"required_roles"`
	Level         int64   `json:"level"`
	Current       int64   `json:"current"`
	Start         int64   `json:"start"`
}

// EligibleFor reports whether a member holding roles may contribute to the pool. A pool
// with no required roles is open to everyone.
func (p Pool) EligibleFor(roles []int64) bool {
	if len(p.RequiredRoles) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(p.RequiredRoles, r) {
			return true
		}
	}
	return false
}

type PoolStatus string

const (
	PoolCritical     PoolStatus = "critical"
	PoolBuilding     PoolStatus = "building"
	PoolNearComplete PoolStatus = "near-complete"
	PoolComplete     PoolStatus = "complete"
)

// StatusOf classifies current/cap with integer arithmetic so the 0.34 and 0.67
// boundaries are exact.
func StatusOf(current, capacity int64) PoolStatus {
	switch {
	case capacity <= 0 || current*100 < capacity*34:
		return PoolCritical
	case current*100 < capacity*67:
		return PoolBuilding
	case current < capacity:
		return PoolNearComplete
	default:
		return PoolComplete
	}
}

type PoolState struct {
	Pool
	Status PoolStatus `json:"status"`
}

// PoolSpec describes a new pool. Level 0 means 1.
type PoolSpec struct {
	Name    string  `json:"name"`
	Cap     int64   `json:"cap"`
	Reward  string  `json:"reward"`
	Roles   []int64 `json:"roles"`
	Level   int64   `json:"level"`
	Current int64   `json:"current"`
	Start   int64   `json:"start"`
}

// PoolPatch is a partial update; nil fields are left unchanged.
type PoolPatch struct {
	Name    *string `json:"name,omitempty"`
	Cap     *int64  `json:"cap,omitempty"`
	Reward  *string `json:"reward,omitempty"`
	Level   *int64  `json:"level,omitempty"`
	Current *int64  `json:"current,omitempty"`
	Start   *int64  `json:"start,omitempty"`
}

func (p PoolPatch) Apply(pool Pool) Pool {
	if p.Name != nil {
		pool.Name = strings.TrimSpace(*p.Name)
	}
	if p.Cap != nil {
		pool.Cap = *p.Cap
	}
	if p.Reward != nil {
		pool.Reward = *p.Reward
	}
	if p.Level != nil {
		pool.Level = *p.Level
	}
	if p.Current != nil {
		pool.Current = *p.Current
	}
	if p.Start != nil {
		pool.Start = *p.Start
	}
	return pool
}

func (p PoolPatch) Empty() bool {
	return p.Name == nil && p.Cap == nil && p.Reward == nil && p.Level == nil && p.Current == nil && p.Start == nil
}

func ValidatePool(p Pool) error {
	if err := validatePoolName(p.Name); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.Reward) > MaxPoolRewardLen {
		return capacityViolation("Pool reward must be %d characters or fewer.", MaxPoolRewardLen)
	}
	if p.Cap <= 0 {
		return capacityViolation("Pool capacity must be greater than 0.")
	}
	if p.Level < 1 {
		return capacityViolation("Pool level must be at least 1.")
	}
	if p.Current < 0 || p.Start < 0 {
		return capacityViolation("Pool current and start must not be negative.")
	}
	if p.Level != 1 && (p.Current == 0 || p.Start == 0) {
		return capacityViolation("Current and start must be greater than 0 if level is not 1.")
	}
	if p.Current > p.Cap {
		return capacityViolation("Pool current (%d) cannot exceed its capacity (%d).", p.Current, p.Cap)
	}
	return nil
}

// DedupRoles keeps the first occurrence of every role.
func DedupRoles(roles []int64) []int64 {
	out := make([]int64, 0, len(roles))
	for _, r := range roles {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// ToggleRole removes role if present, otherwise appends it. Applying it twice returns
// the original set.
func ToggleRole(roles []int64, role int64) ([]int64, bool) {
	if i := slices.Index(roles, role); i >= 0 {
		return slices.Delete(slices.Clone(roles), i, i+1), false
	}
	return append(slices.Clone(roles), role), true
}

func (s *Service) CreatePool(ctx context.Context, actor int64, spec PoolSpec) (out PoolState, err error) {
	ctx, span := s.startSpan(ctx, "CreatePool")
	defer func() { endSpan(span, err) }()

	pool := Pool{
		Name:          strings.TrimSpace(spec.Name),
		Cap:           spec.Cap,
		Reward:        spec.Reward,
		RequiredRoles: DedupRoles(spec.Roles),
		Level:         spec.Level,
		Current:       spec.Current,
		Start:         spec.Start,
	}
	if pool.Level == 0 {
		pool.Level = 1
	}
	if err := ValidatePool(pool); err != nil {
		return out, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Pool(ctx, pool.Name); err == nil {
			return invalidState("Pool `%s` already exists.", pool.Name)
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}
		return tx.InsertPool(ctx, pool)
	})
	if err != nil {
		return out, err
	}
	out = PoolState{Pool: pool, Status: StatusOf(pool.Current, pool.Cap)}
	s.notify(ctx, Event{Action: "pool.create", Actor: actor, Subject: pool.Name, Detail: poolDetail(pool)})
	return out, nil
}

func (s *Service) EditPool(ctx context.Context, actor int64, name string, patch PoolPatch) (out PoolState, err error) {
	ctx, span := s.startSpan(ctx, "EditPool")
	defer func() { endSpan(span, err) }()

	if patch.Empty() {
		return out, invalidState("Nothing to edit for pool `%s`.", name)
	}
	var edited Pool
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.LockPool(ctx, name)
		if errors.Is(err, ErrNoRows) {
			return notFound("Pool `%s` not found.", name)
		}
		if err != nil {
			return err
		}
		edited = patch.Apply(current)
		if err := ValidatePool(edited); err != nil {
			return err
		}
		if edited.Name != current.Name {
			if _, err := tx.Pool(ctx, edited.Name); err == nil {
				return invalidState("Pool `%s` already exists.", edited.Name)
			} else if !errors.Is(err, ErrNoRows) {
				return err
			}
		}
		return tx.UpdatePool(ctx, current.Name, edited)
	})
	if err != nil {
		return out, err
	}
	out = PoolState{Pool: edited, Status: StatusOf(edited.Current, edited.Cap)}
	subject := edited.Name
	if edited.Name != name {
		subject = edited.Name + " (formerly " + name + ")"
	}
	s.notify(ctx, Event{Action: "pool.edit", Actor: actor, Subject: subject, Detail: poolDetail(edited)})
	return out, nil
}

type RoleToggle struct {
	Pool  PoolState `json:"pool"`
	Role  int64     `json:"role"`
	Added bool      `json:"added"`
}

func (s *Service) TogglePoolRole(ctx context.Context, actor int64, name string, role int64) (out RoleToggle, err error) {
	ctx, span := s.startSpan(ctx, "TogglePoolRole")
	defer func() { endSpan(span, err) }()

	out.Role = role
	err = s.store.WithTx(ctx, func(tx Tx) error {
		pool, err := tx.LockPool(ctx, name)
		if errors.Is(err, ErrNoRows) {
			return notFound("Pool `%s` not found.", name)
		}
		if err != nil {
			return err
		}
		pool.RequiredRoles, out.Added = ToggleRole(pool.RequiredRoles, role)
		out.Pool = PoolState{Pool: pool, Status: StatusOf(pool.Current, pool.Cap)}
		return tx.UpdatePool(ctx, name, pool)
	})
	if err != nil {
		return RoleToggle{}, err
	}
	action := "pool.role.remove"
	if out.Added {
		action = "pool.role.add"
	}
	s.notify(ctx, Event{Action: action, Actor: actor, Subject: name, Detail: roleMention(role)})
	return out, nil
}

func (s *Service) DeletePool(ctx context.Context, actor int64, name string) (err error) {
	ctx, span := s.startSpan(ctx, "DeletePool")
	defer func() { endSpan(span, err) }()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		deleted, err := tx.DeletePool(ctx, name)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound("Pool `%s` not found.", name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, Event{Action: "pool.delete", Actor: actor, Subject: name})
	return nil
}

func (s *Service) PoolStatus(ctx context.Context, name string) (out PoolState, err error) {
	ctx, span := s.startSpan(ctx, "PoolStatus")
	defer func() { endSpan(span, err) }()

	err = s.store.Snapshot(ctx, func(r Reader) error {
		pool, err := r.Pool(ctx, name)
		if errors.Is(err, ErrNoRows) {
			return notFound("Pool `%s` not found.", name)
		}
		if err != nil {
			return err
		}
		out = PoolState{Pool: pool, Status: StatusOf(pool.Current, pool.Cap)}
		return nil
	})
	return out, err
}

func (s *Service) Pools(ctx context.Context) ([]PoolState, error) {
	var out []PoolState
	err := s.store.Snapshot(ctx, func(r Reader) error {
		pools, err := r.Pools(ctx)
		if err != nil {
			return err
		}
		out = make([]PoolState, 0, len(pools))
		for _, p := range pools {
			out = append(out, PoolState{Pool: p, Status: StatusOf(p.Current, p.Cap)})
		}
		return nil
	})
	return out, err
}

func (s *Service) PoolSuggestions(ctx context.Context, prefix string) ([]Suggestion, error) {
	pools, err := s.Pools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, min(len(pools), MaxSuggestions))
	for _, p := range pools {
		if !strings.HasPrefix(p.Name, prefix) {
			continue
		}
		out = append(out, Suggestion{Name: p.Name, Label: p.Name})
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out, nil
}
