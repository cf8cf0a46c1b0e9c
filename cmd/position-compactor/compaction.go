package main

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/diwise/eav-store/internal/pkg/infrastructure/database"
	"github.com/diwise/eav-store/pkg/eav"
	"github.com/diwise/eav-store/pkg/eav/schema"
)

type storedPosition struct {
	id        int64
	attribute string
	context   string
	position  int
}

type positionUpdate struct {
	id       int64
	position int
}

// contextMasks maps family and attribute codes to the context dimensions that
// tell the attribute's values apart
type contextMasks map[string]map[string][]string

func newContextMasks(registry *schema.Registry) contextMasks {
	masks := contextMasks{}
	for _, f := range registry.Families() {
		attributes := map[string][]string{}
		for _, a := range f.Attributes() {
			attributes[a.Code()] = a.ContextMask()
		}
		masks[f.Code()] = attributes
	}
	return masks
}

// groupKey reduces a stored context to the masked dimensions so that values
// written in contexts the attribute does not care about share a sequence
func (m contextMasks) groupKey(family string, value storedPosition) (string, error) {
	ctx, err := database.ValueRow{ID: eav.ID(value.id), Context: value.context}.ContextMap()
	if err != nil {
		return "", err
	}

	mask := slices.Clone(m[family][value.attribute])
	slices.Sort(mask)

	parts := []string{value.attribute}
	for _, key := range mask {
		if v, ok := ctx[key]; ok && v != nil {
			parts = append(parts, key+"="+fmt.Sprint(v))
		}
	}

	return strings.Join(parts, "\x1f"), nil
}

// planCompaction renumbers every sequence of values from 0, keeping their
// current order, and returns the values whose position has to change
func (m contextMasks) planCompaction(family string, values []storedPosition) ([]positionUpdate, error) {
	sorted := slices.Clone(values)
	slices.SortStableFunc(sorted, func(a, b storedPosition) int {
		if c := cmp.Compare(a.position, b.position); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	next := map[string]int{}
	updates := []positionUpdate{}

	for _, v := range sorted {
		key, err := m.groupKey(family, v)
		if err != nil {
			return nil, err
		}

		rank := next[key]
		next[key] = rank + 1

		if v.position != rank {
			updates = append(updates, positionUpdate{id: v.id, position: rank})
		}
	}

	return updates, nil
}
