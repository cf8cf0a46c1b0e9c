package database

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

type memoryState struct {
	data        map[eav.ID]DataRow
	values      map[eav.ID][]ValueRow
	children    map[eav.ID][]eav.ID
	nextDataID  eav.ID
	nextValueID eav.ID
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		data:        maps.Clone(s.data),
		values:      maps.Clone(s.values),
		children:    map[eav.ID][]eav.ID{},
		nextDataID:  s.nextDataID,
		nextValueID: s.nextValueID,
	}

	for parent, ids := range s.children {
		c.children[parent] = slices.Clone(ids)
	}

	return c
}

type memoryStore struct {
	mu       sync.Mutex
	state    *memoryState
	families FamilyResolver
}

// NewMemoryStore returns a Store that keeps flattened rows in memory
func NewMemoryStore(families FamilyResolver) Store {
	return &memoryStore{
		families: families,
		state: &memoryState{
			data:     map[eav.ID]DataRow{},
			values:   map[eav.ID][]ValueRow{},
			children: map[eav.ID][]eav.ID{},
		},
	}
}

func (m *memoryStore) Save(ctx context.Context, d *eav.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.state.clone()
	uow := newUnitOfWork()

	if err := uow.save(ctx, tx, d); err != nil {
		return err
	}

	m.state = tx
	uow.commit()

	return nil
}

func (m *memoryStore) Load(ctx context.Context, id eav.ID) (*eav.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return newHydrator(m.families, m.state).load(ctx, id)
}

func (m *memoryStore) Delete(ctx context.Context, id eav.ID) ([]eav.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.data[id]; !ok {
		return nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}

	tx := m.state.clone()
	deleted := tx.descendants(id)

	for _, d := range deleted {
		row := tx.data[d]
		tx.children[row.ParentID] = slices.DeleteFunc(tx.children[row.ParentID], func(c eav.ID) bool { return c == d })
		delete(tx.data, d)
		delete(tx.values, d)
		delete(tx.children, d)
	}

	// references to deleted data are dropped from the surviving data
	for dataID, rows := range tx.values {
		kept := slices.DeleteFunc(slices.Clone(rows), func(r ValueRow) bool {
			return r.DataValueID.Valid && slices.Contains(deleted, eav.ID(r.DataValueID.Int64))
		})
		if len(kept) != len(rows) {
			tx.values[dataID] = kept
		}
	}

	m.state = tx

	return deleted, nil
}

func (m *memoryStore) Children(ctx context.Context, id eav.ID) ([]eav.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.data[id]; !ok {
		return nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}

	children := slices.Clone(m.state.children[id])
	slices.Sort(children)

	return children, nil
}

func (m *memoryStore) FindByAttribute(ctx context.Context, q Query) ([]eav.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kind eav.StorageType
	var wanted any

	if q.Attribute != "" {
		var err error
		kind, err = attributeKind(m.families, q)
		if err != nil {
			return nil, err
		}

		_, wanted, err = queryColumn(kind, q.Value)
		if err != nil {
			return nil, err
		}
	}

	result := []eav.ID{}

	for id, row := range m.state.data {
		if q.Family != "" && row.Family != q.Family {
			continue
		}

		if q.Attribute != "" {
			matched := slices.ContainsFunc(m.state.values[id], func(vr ValueRow) bool {
				return vr.AttributeCode == q.Attribute && sameColumnValue(vr.Column(kind), wanted)
			})
			if !matched {
				continue
			}
		}

		result = append(result, id)
	}

	slices.Sort(result)

	return paginate(result, q.Limit, q.Offset), nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (s *memoryState) readData(ctx context.Context, id eav.ID) (DataRow, []ValueRow, error) {
	row, ok := s.data[id]
	if !ok {
		return DataRow{}, nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}

	return row, slices.Clone(s.values[id]), nil
}

func (s *memoryState) putData(ctx context.Context, row DataRow) (eav.ID, error) {
	if row.ID == 0 {
		s.nextDataID++
		row.ID = s.nextDataID
	} else {
		existing, ok := s.data[row.ID]
		if !ok {
			return 0, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", row.ID))
		}

		if existing.ParentID != row.ParentID {
			s.children[existing.ParentID] = slices.DeleteFunc(s.children[existing.ParentID], func(c eav.ID) bool { return c == row.ID })
		}
	}

	if row.ParentID != 0 && !slices.Contains(s.children[row.ParentID], row.ID) {
		s.children[row.ParentID] = append(s.children[row.ParentID], row.ID)
	}

	s.data[row.ID] = row

	return row.ID, nil
}

func (s *memoryState) replaceValues(ctx context.Context, dataID eav.ID, rows []ValueRow) ([]eav.ID, error) {
	ids := make([]eav.ID, len(rows))
	stored := make([]ValueRow, len(rows))

	for i, r := range rows {
		s.nextValueID++
		r.ID = s.nextValueID
		r.DataID = dataID
		ids[i] = r.ID
		stored[i] = r
	}

	s.values[dataID] = stored

	return ids, nil
}

func (s *memoryState) parentOf(ctx context.Context, id eav.ID) (eav.ID, bool, error) {
	row, ok := s.data[id]
	return row.ParentID, ok, nil
}

// descendants returns id followed by every data below it, breadth first
func (s *memoryState) descendants(id eav.ID) []eav.ID {
	result := []eav.ID{id}
	for i := 0; i < len(result); i++ {
		result = append(result, s.children[result[i]]...)
	}
	return result
}

func attributeKind(families FamilyResolver, q Query) (eav.StorageType, error) {
	if q.Family == "" {
		return "", eaverrors.NewInvalidConfigurationError("a family is required to query by attribute")
	}

	family, err := families.Family(q.Family)
	if err != nil {
		return "", err
	}

	attribute := family.Attribute(q.Attribute)
	if attribute == nil {
		return "", eaverrors.NewUnknownAttributeError(q.Attribute, q.Family)
	}

	return attribute.Type().DatabaseType(), nil
}

func sameColumnValue(stored, wanted any) bool {
	if stored == nil || wanted == nil {
		return stored == nil && wanted == nil
	}

	if st, ok := stored.(time.Time); ok {
		wt, ok := wanted.(time.Time)
		return ok && st.Equal(wt)
	}

	return fmt.Sprint(stored) == fmt.Sprint(wanted)
}

func paginate(ids []eav.ID, limit, offset int) []eav.ID {
	if offset > 0 {
		if offset >= len(ids) {
			return []eav.ID{}
		}
		ids = ids[offset:]
	}

	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	return ids
}
