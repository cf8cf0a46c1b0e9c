package database

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

// FamilyResolver looks up the family a stored Data belongs to
type FamilyResolver interface {
	Family(code string) (eav.Family, error)
}

// Query selects data by family and, optionally, by the content of an attribute
type Query struct {
	Family    string
	Attribute string
	Value     any
	Limit     int
	Offset    int
}

// Store persists Data graphs. The store is the arena of the data tree: it
// tracks children by parent id and deletes descendants with their parent.
type Store interface {
	// Save persists d and every unsaved Data it references, assigning ids,
	// bumping the version and stamping the update time once committed
	Save(ctx context.Context, d *eav.Data) error
	Load(ctx context.Context, id eav.ID) (*eav.Data, error)
	// Delete removes a Data with all its descendants and returns their ids
	Delete(ctx context.Context, id eav.ID) ([]eav.ID, error)
	Children(ctx context.Context, id eav.ID) ([]eav.ID, error)
	FindByAttribute(ctx context.Context, q Query) ([]eav.ID, error)
	Close() error
}

// writer is the set of primitive operations a store exposes inside a
// transaction so that the save algorithm can be shared
type writer interface {
	putData(ctx context.Context, row DataRow) (eav.ID, error)
	replaceValues(ctx context.Context, dataID eav.ID, rows []ValueRow) ([]eav.ID, error)
	parentOf(ctx context.Context, id eav.ID) (eav.ID, bool, error)
}

// reader is what hydration needs from a store
type reader interface {
	readData(ctx context.Context, id eav.ID) (DataRow, []ValueRow, error)
}

// unitOfWork collects the ids handed out during one Save. Nothing is written
// back to the in-memory graph until the store has committed.
type unitOfWork struct {
	now     time.Time
	ids     map[*eav.Data]eav.ID
	commits []func()
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{
		now: time.Now().UTC(),
		ids: map[*eav.Data]eav.ID{},
	}
}

func (uow *unitOfWork) idOf(d *eav.Data) eav.ID {
	if id, ok := uow.ids[d]; ok {
		return id
	}
	return d.ID()
}

func (uow *unitOfWork) commit() {
	for _, fn := range uow.commits {
		fn()
	}
}

func (uow *unitOfWork) save(ctx context.Context, w writer, d *eav.Data) error {
	if _, visited := uow.ids[d]; visited {
		return nil
	}

	if err := checkParent(ctx, w, d); err != nil {
		return err
	}

	version := d.CurrentVersion() + 1

	row := DataRow{
		ID:        d.ID(),
		Family:    d.FamilyCode(),
		ParentID:  d.ParentID(),
		CreatedAt: d.CreatedAt().UTC(),
		UpdatedAt: uow.now,
		Version:   version,
	}

	id, err := w.putData(ctx, row)
	if err != nil {
		return err
	}

	uow.ids[d] = id

	values := d.AllValues()

	for _, v := range values {
		if ref := v.DataValue(); ref != nil && uow.idOf(ref) == 0 {
			if err := uow.save(ctx, w, ref); err != nil {
				return err
			}
		}
	}

	rows := make([]ValueRow, 0, len(values))
	for _, v := range values {
		r, err := NewValueRow(id, v, uow.idOf)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}

	valueIDs, err := w.replaceValues(ctx, id, rows)
	if err != nil {
		return err
	}

	now := uow.now
	uow.commits = append(uow.commits, func() {
		d.SetID(id)
		d.SetCurrentVersion(version)
		_ = d.SetUpdatedAt(now)
		for i, v := range values {
			v.SetID(valueIDs[i])
		}
	})

	return nil
}

// checkParent makes sure the parent exists and that d is not one of its ancestors
func checkParent(ctx context.Context, w writer, d *eav.Data) error {
	parentID := d.ParentID()
	if parentID == 0 {
		return nil
	}

	current := parentID
	for current != 0 {
		if d.ID() != 0 && current == d.ID() {
			return eaverrors.NewInvalidValueError(fmt.Sprintf("data %d cannot be its own ancestor", d.ID()))
		}

		next, ok, err := w.parentOf(ctx, current)
		if err != nil {
			return err
		}
		if !ok {
			return eaverrors.NewNotFoundError(fmt.Sprintf("parent data %d not found", current))
		}
		current = next
	}

	return nil
}

// hydrator rebuilds Data graphs from rows, loading every referenced Data once
type hydrator struct {
	families FamilyResolver
	r        reader
	loaded   map[eav.ID]*eav.Data
}

func newHydrator(families FamilyResolver, r reader) *hydrator {
	return &hydrator{
		families: families,
		r:        r,
		loaded:   map[eav.ID]*eav.Data{},
	}
}

func (h *hydrator) load(ctx context.Context, id eav.ID) (*eav.Data, error) {
	if d, ok := h.loaded[id]; ok {
		return d, nil
	}

	row, values, err := h.r.readData(ctx, id)
	if err != nil {
		return nil, err
	}

	family, err := h.families.Family(row.Family)
	if err != nil {
		return nil, err
	}

	d, err := eav.New(family, eav.Parent(row.ParentID))
	if err != nil {
		return nil, err
	}

	d.SetID(row.ID)
	d.SetCurrentVersion(row.Version)
	if err := d.SetCreatedAt(row.CreatedAt.UTC()); err != nil {
		return nil, err
	}
	if err := d.SetUpdatedAt(row.UpdatedAt.UTC()); err != nil {
		return nil, err
	}

	h.loaded[id] = d

	resolve := func(ref eav.ID) (*eav.Data, error) {
		return h.load(ctx, ref)
	}

	for _, vr := range values {
		v, err := vr.toValue(family, resolve)
		if err != nil {
			return nil, err
		}
		d.AddValue(v)
	}

	return d, nil
}
