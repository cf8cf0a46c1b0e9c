package document

import (
	"time"

	"github.com/diwise/eav-store/pkg/eav"
)

const (
	DateLayout string = "2006-01-02"
)

// Document is the wire representation of a Data resolved in one context
type Document struct {
	ID         int64          `json:"id"`
	Family     string         `json:"family"`
	ParentID   int64          `json:"parentId,omitempty"`
	Label      string         `json:"label"`
	Version    int            `json:"version"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Context    map[string]any `json:"context,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// Reference is how a data valued attribute is rendered
type Reference struct {
	ID     int64  `json:"id"`
	Family string `json:"family"`
	Label  string `json:"label"`
}

func NewReference(d *eav.Data) Reference {
	return Reference{
		ID:     int64(d.ID()),
		Family: d.FamilyCode(),
		Label:  d.Label(),
	}
}

// FromData renders the values of d that match ctx. Multi valued attributes
// become lists in collection order.
func FromData(d *eav.Data, ctx eav.Context) (Document, error) {
	if len(ctx) == 0 {
		ctx = d.CurrentContext()
	}

	doc := Document{
		ID:         int64(d.ID()),
		Family:     d.FamilyCode(),
		ParentID:   int64(d.ParentID()),
		Label:      d.Label(),
		Version:    d.CurrentVersion(),
		CreatedAt:  d.CreatedAt(),
		UpdatedAt:  d.UpdatedAt(),
		Attributes: map[string]any{},
	}

	if len(ctx) > 0 {
		doc.Context = map[string]any(ctx.Clone())
	}

	values, err := d.Values(nil, ctx)
	if err != nil {
		return doc, err
	}

	family := d.Family()

	for _, v := range values {
		attribute := family.Attribute(v.AttributeCode())
		kind := attribute.Type().DatabaseType()

		scalar, err := v.Get(kind)
		if err != nil {
			return doc, err
		}

		rendered := render(kind, scalar)

		if attribute.Multiple() {
			list, _ := doc.Attributes[attribute.Code()].([]any)
			doc.Attributes[attribute.Code()] = append(list, rendered)
			continue
		}

		if _, seen := doc.Attributes[attribute.Code()]; !seen {
			doc.Attributes[attribute.Code()] = rendered
		}
	}

	return doc, nil
}

func render(kind eav.StorageType, scalar any) any {
	switch value := scalar.(type) {
	case *eav.Data:
		return NewReference(value)
	case time.Time:
		if kind == eav.DateValue {
			return value.Format(DateLayout)
		}
		return value.UTC().Format(time.RFC3339Nano)
	}
	return scalar
}
