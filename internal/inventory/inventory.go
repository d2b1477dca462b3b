package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/eleven-am/medverify/internal/shared"
)

var ErrEmpty = errors.New("inventory has no entries")

type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Dose     string `json:"dose"`
	Warnings string `json:"warnings"`
}

// Inventory is the read-only medication catalog keyed by medication id.
type Inventory struct {
	entries map[string]Entry
	ids     []string
}

func LoadFile(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Inventory, error) {
	var raw map[string]Entry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return New(raw)
}

func New(entries map[string]Entry) (*Inventory, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	inv := &Inventory{
		entries: make(map[string]Entry, len(entries)),
		ids:     make([]string, 0, len(entries)),
	}
	for id, e := range entries {
		if id == "" {
			return nil, errors.New("inventory entry with empty id")
		}
		e.ID = id
		inv.entries[id] = e
		inv.ids = append(inv.ids, id)
	}
	sort.Strings(inv.ids)
	return inv, nil
}

func (inv *Inventory) Get(id string) (Entry, error) {
	e, ok := inv.entries[id]
	if !ok {
		return Entry{}, shared.ErrNotFound
	}
	return e, nil
}

func (inv *Inventory) Has(id string) bool {
	_, ok := inv.entries[id]
	return ok
}

// IDs returns every medication id in sorted order.
func (inv *Inventory) IDs() []string {
	return append([]string(nil), inv.ids...)
}

func (inv *Inventory) Entries() []Entry {
	out := make([]Entry, 0, len(inv.ids))
	for _, id := range inv.ids {
		out = append(out, inv.entries[id])
	}
	return out
}

func (inv *Inventory) Name(id string) string {
	return inv.entries[id].Name
}

// LookupByName finds the id of the first entry, in id order, with the given
// display name.
func (inv *Inventory) LookupByName(name string) (string, error) {
	for _, id := range inv.ids {
		if inv.entries[id].Name == name {
			return id, nil
		}
	}
	return "", shared.ErrNotFound
}

func (inv *Inventory) Len() int {
	return len(inv.ids)
}
