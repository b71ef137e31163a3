// Package catalog loads item definitions from a YAML seed file.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"guildbank/internal/economy"
)

// File is the on-disk layout:
//
//	user_items:
//	  - name: Lucky Coin
//	    cost: 50
//	    value: 10
//	    benefit: currency
//	gang_items: [...]
type File struct {
	UserItems []economy.ItemDef `yaml:"user_items"`
	GangItems []economy.ItemDef `yaml:"gang_items"`
}

func (f File) For(scope economy.Scope) []economy.ItemDef {
	if scope == economy.ScopeGang {
		return f.GangItems
	}
	return f.UserItems
}

func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read catalog: %w", err)
	}
	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode catalog: %w", err)
	}
	for _, scope := range []economy.Scope{economy.ScopeUser, economy.ScopeGang} {
		seen := make(map[string]bool)
		for _, def := range f.For(scope) {
			if err := def.Validate(); err != nil {
				return File{}, fmt.Errorf("%s_items: %w", scope, err)
			}
			if seen[def.Name] {
				return File{}, fmt.Errorf("%s_items: duplicate item %q", scope, def.Name)
			}
			seen[def.Name] = true
		}
	}
	return f, nil
}
