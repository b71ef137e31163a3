package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildbank/internal/economy"
)

const seed = `
user_items:
  - name: Lucky Coin
    cost: 50
    value: 10
    benefit: currency
  - name: Old Boot
    cost: 1
    value: 0
    benefit: other_consumable
    description: Smells.
gang_items:
  - name: Barricade
    cost: 200
    value: 15
    benefit: defense
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(seed))
	require.NoError(t, err)

	user := f.For(economy.ScopeUser)
	require.Len(t, user, 2)
	assert.Equal(t, economy.ItemDef{Name: "Lucky Coin", Cost: 50, Value: 10, Benefit: economy.BenefitCurrency}, user[0])
	assert.Equal(t, "Smells.", user[1].Description)

	gang := f.For(economy.ScopeGang)
	require.Len(t, gang, 1)
	assert.Equal(t, economy.BenefitDefense, gang[0].Benefit)
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.UserItems)
	assert.Empty(t, f.GangItems)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "user_items:\n  - name: Coin\n    price: 5\n    benefit: currency\n",
		"unknown top":   "shop_items: []\n",
		"bad benefit":   "user_items:\n  - name: Coin\n    benefit: teleport\n",
		"negative cost": "gang_items:\n  - name: Wall\n    cost: -5\n    benefit: defense\n",
		"duplicate":     "user_items:\n  - name: Coin\n    benefit: other\n  - name: Coin\n    benefit: other\n",
		"missing name":  "user_items:\n  - cost: 5\n    benefit: other\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseAllowsSameNameAcrossScopes(t *testing.T) {
	doc := "user_items:\n  - name: Flag\n    benefit: other\ngang_items:\n  - name: Flag\n    benefit: other\n"
	_, err := Parse(strings.NewReader(doc))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.UserItems, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
