package economy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	MaxPoolNameLen   = 32
	MaxPoolRewardLen = 100
	MaxSuggestions   = 25

	// SellRefundDivisor is the fixed buy/sell asymmetry: a sale refunds cost / 10.
	SellRefundDivisor = int64(10)
)

var (
	// ErrNoRows is returned by stores when a looked-up row does not exist.
	ErrNoRows = errors.New("no rows")
	// ErrTxConflict is returned when the store aborted the transaction because of lock
	// contention, a deadlock or a lock timeout. The operation had no effect and may be retried.
	ErrTxConflict = errors.New("transaction conflict, retry")
	// ErrUnknownBenefit means a stored item carries a benefit kind this build does not know.
	ErrUnknownBenefit = errors.New("unknown benefit kind")
	// ErrInvalidDefinition rejects a catalog definition before anything is written.
	ErrInvalidDefinition = errors.New("invalid item definition")
)

type Scope string

const (
	ScopeUser Scope = "user"
	ScopeGang Scope = "gang"
)

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return ScopeUser, nil
	case "gang":
		return ScopeGang, nil
	default:
		return "", fmt.Errorf("scope must be user or gang")
	}
}

// Owner identifies the holder of a balance or inventory: a user for ScopeUser, a gang
// for ScopeGang.
type Owner struct {
	Scope  Scope
	UserID int64
	Gang   string
}

func UserOwner(id int64) Owner { return Owner{Scope: ScopeUser, UserID: id} }

func GangOwner(name string) Owner { return Owner{Scope: ScopeGang, Gang: name} }

func (o Owner) String() string {
	if o.Scope == ScopeGang {
		return "gang:" + o.Gang
	}
	return fmt.Sprintf("user:%d", o.UserID)
}

// Less orders owners of the same scope; two-party operations lock rows in this order.
func (o Owner) Less(other Owner) bool {
	if o.Scope == ScopeGang {
		return o.Gang < other.Gang
	}
	return o.UserID < other.UserID
}

type Member struct {
	UserID     int64
	Gang       string
	Leader     bool
	Leadership bool
}

// InLeadership reports the standing required for gang purchases, gang sales and gifts.
func (m Member) InLeadership() bool {
	return m.Leader || m.Leadership
}

type Item struct {
	ID          int64   `json:"id"`
	Scope       Scope   `json:"scope"`
	Name        string  `json:"name"`
	Cost        int64   `json:"cost"`
	Value       int64   `json:"value"`
	Benefit     Benefit `json:"benefit"`
	Description string  `json:"description"`
}

// ItemDef is a catalog definition before it has an id.
type ItemDef struct {
	Name        string  `json:"name" yaml:"name"`
	Cost        int64   `json:"cost" yaml:"cost"`
	Value       int64   `json:"value" yaml:"value"`
	Benefit     Benefit `json:"benefit" yaml:"benefit"`
	Description string  `json:"description" yaml:"description"`
}

func (d ItemDef) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("item name is required")
	}
	if d.Cost < 0 {
		return fmt.Errorf("item %q: cost must be >= 0", d.Name)
	}
	if d.Value < 0 {
		return fmt.Errorf("item %q: value must be >= 0", d.Name)
	}
	if _, err := ParseBenefit(string(d.Benefit)); err != nil {
		return fmt.Errorf("item %q: %w", d.Name, err)
	}
	return nil
}

// Holding is an inventory row joined with its catalog item.
type Holding struct {
	Item
	Quantity int64 `json:"quantity"`
}

type Territory struct {
	ID      int64
	Name    string
	Gang    string
	Raider  string
	Attack  int64
	Defense int64
}

// Entry is one append-only ledger line written alongside every balance change.
type Entry struct {
	Owner   Owner
	Action  string
	Delta   int64
	Balance int64
}

func SellRefund(cost int64) int64 {
	return cost / SellRefundDivisor
}

func validatePoolName(name string) error {
	if strings.TrimSpace(name) == "" {
		return capacityViolation("Pool name is required.")
	}
	if utf8.RuneCountInString(name) > MaxPoolNameLen {
		return capacityViolation("Pool name must be %d characters or fewer.", MaxPoolNameLen)
	}
	return nil
}

// addBalance returns a+b, or false when the sum leaves the int64 range.
func addBalance(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}
