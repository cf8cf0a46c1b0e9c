package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eav-store/database")

// dialect holds what differs between the SQL engines behind database/sql
type dialect struct {
	name      string
	schema    []string
	positions bool
}

// rebind rewrites ? placeholders into $1, $2 ... for engines that need it
func (d dialect) rebind(query string) string {
	if !d.positions {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlStore struct {
	db       *sql.DB
	dialect  dialect
	families FamilyResolver
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, families FamilyResolver) (*sqlStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply %s schema: %w", d.name, err)
		}
	}

	return &sqlStore{db: db, dialect: d, families: families}, nil
}

func (s *sqlStore) Save(ctx context.Context, d *eav.Data) (err error) {
	ctx, span := tracer.Start(ctx, "save-data", trace.WithAttributes(attribute.String("family", d.FamilyCode())))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	uow := newUnitOfWork()

	err = uow.save(ctx, s.conn(tx), d)
	if err != nil {
		tx.Rollback()
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	uow.commit()

	return nil
}

func (s *sqlStore) Load(ctx context.Context, id eav.ID) (d *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "load-data", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return newHydrator(s.families, s.conn(s.db)).load(ctx, id)
}

func (s *sqlStore) Delete(ctx context.Context, id eav.ID) (deleted []eav.ID, err error) {
	ctx, span := tracer.Start(ctx, "delete-data", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	deleted, err = s.conn(tx).deleteTree(ctx, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	return deleted, nil
}

func (s *sqlStore) Children(ctx context.Context, id eav.ID) ([]eav.ID, error) {
	c := s.conn(s.db)

	if _, ok, err := c.parentOf(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}

	return c.children(ctx, id)
}

func (s *sqlStore) FindByAttribute(ctx context.Context, q Query) (ids []eav.ID, err error) {
	ctx, span := tracer.Start(ctx, "find-data", trace.WithAttributes(attribute.String("family", q.Family), attribute.String("attribute", q.Attribute)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	conditions := []string{}
	args := []any{}

	if q.Family != "" {
		conditions = append(conditions, "d.family = ?")
		args = append(args, q.Family)
	}

	if q.Attribute != "" {
		kind, err := attributeKind(s.families, q)
		if err != nil {
			return nil, err
		}

		column, wanted, err := queryColumn(kind, q.Value)
		if err != nil {
			return nil, err
		}

		if wanted == nil {
			conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM eav_value v WHERE v.data_id = d.id AND v.attribute_code = ? AND v.%s IS NULL)", column))
			args = append(args, q.Attribute)
		} else {
			conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM eav_value v WHERE v.data_id = d.id AND v.attribute_code = ? AND v.%s = ?)", column))
			args = append(args, q.Attribute, wanted)
		}
	}

	query := "SELECT d.id FROM eav_data d"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY d.id"

	offset := q.Offset
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, max(q.Offset, 0))
		offset = 0
	}

	ids, err = s.conn(s.db).queryIDs(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return paginate(ids, 0, offset), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) conn(q querier) *sqlConn {
	return &sqlConn{q: q, dialect: s.dialect}
}

// sqlConn runs the row level statements on a database or a transaction
type sqlConn struct {
	q       querier
	dialect dialect
}

func (c *sqlConn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.rebind(query), args...)
}

func (c *sqlConn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}

func (c *sqlConn) queryIDs(ctx context.Context, query string, args ...any) ([]eav.ID, error) {
	rows, err := c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []eav.ID{}

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, eav.ID(id))
	}

	return ids, rows.Err()
}

func (c *sqlConn) putData(ctx context.Context, row DataRow) (eav.ID, error) {
	parent := sql.NullInt64{Int64: int64(row.ParentID), Valid: row.ParentID != 0}

	if row.ID == 0 {
		var id int64
		err := c.queryRow(ctx,
			`INSERT INTO eav_data (family, parent_id, created_at, updated_at, version) VALUES (?, ?, ?, ?, ?) RETURNING id`,
			row.Family, parent, row.CreatedAt, row.UpdatedAt, row.Version,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert data: %w", err)
		}
		return eav.ID(id), nil
	}

	result, err := c.exec(ctx,
		`UPDATE eav_data SET family = ?, parent_id = ?, updated_at = ?, version = ? WHERE id = ?`,
		row.Family, parent, row.UpdatedAt, row.Version, int64(row.ID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update data %d: %w", row.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", row.ID))
	}

	return row.ID, nil
}

func (c *sqlConn) replaceValues(ctx context.Context, dataID eav.ID, rows []ValueRow) ([]eav.ID, error) {
	if _, err := c.exec(ctx, `DELETE FROM eav_value WHERE data_id = ?`, int64(dataID)); err != nil {
		return nil, fmt.Errorf("failed to clear values of data %d: %w", dataID, err)
	}

	ids := make([]eav.ID, 0, len(rows))

	for _, r := range rows {
		var id int64
		err := c.queryRow(ctx,
			`INSERT INTO eav_value (data_id, attribute_code, position, bool_value, integer_value, decimal_value, date_value, datetime_value, string_value, text_value, data_value_id, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			int64(dataID), r.AttributeCode, r.Position,
			r.BoolValue, r.IntegerValue, r.DecimalValue, r.DateValue, r.DatetimeValue,
			r.StringValue, r.TextValue, r.DataValueID, r.Context,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert value %s of data %d: %w", r.AttributeCode, dataID, err)
		}
		ids = append(ids, eav.ID(id))
	}

	return ids, nil
}

func (c *sqlConn) parentOf(ctx context.Context, id eav.ID) (eav.ID, bool, error) {
	var parent sql.NullInt64

	err := c.queryRow(ctx, `SELECT parent_id FROM eav_data WHERE id = ?`, int64(id)).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return eav.ID(parent.Int64), true, nil
}

func (c *sqlConn) children(ctx context.Context, id eav.ID) ([]eav.ID, error) {
	return c.queryIDs(ctx, `SELECT id FROM eav_data WHERE parent_id = ? ORDER BY id`, int64(id))
}

func (c *sqlConn) readData(ctx context.Context, id eav.ID) (DataRow, []ValueRow, error) {
	row := DataRow{}
	var dataID int64
	var parent sql.NullInt64

	err := c.queryRow(ctx,
		`SELECT id, family, parent_id, created_at, updated_at, version FROM eav_data WHERE id = ?`, int64(id),
	).Scan(&dataID, &row.Family, &parent, &row.CreatedAt, &row.UpdatedAt, &row.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return row, nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}
	if err != nil {
		return row, nil, err
	}

	row.ID = eav.ID(dataID)
	row.ParentID = eav.ID(parent.Int64)

	rows, err := c.q.QueryContext(ctx, c.dialect.rebind(
		`SELECT id, attribute_code, position, bool_value, integer_value, decimal_value, date_value, datetime_value, string_value, text_value, data_value_id, context
		FROM eav_value WHERE data_id = ? ORDER BY id`), int64(id))
	if err != nil {
		return row, nil, err
	}
	defer rows.Close()

	values := []ValueRow{}

	for rows.Next() {
		vr := ValueRow{DataID: row.ID}
		var valueID int64

		err := rows.Scan(&valueID, &vr.AttributeCode, &vr.Position,
			&vr.BoolValue, &vr.IntegerValue, &vr.DecimalValue, &vr.DateValue, &vr.DatetimeValue,
			&vr.StringValue, &vr.TextValue, &vr.DataValueID, &vr.Context)
		if err != nil {
			return row, nil, err
		}

		vr.ID = eav.ID(valueID)
		values = append(values, vr)
	}

	return row, values, rows.Err()
}

func (c *sqlConn) deleteTree(ctx context.Context, id eav.ID) ([]eav.ID, error) {
	if _, ok, err := c.parentOf(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, eaverrors.NewNotFoundError(fmt.Sprintf("data %d not found", id))
	}

	deleted := []eav.ID{id}
	for i := 0; i < len(deleted); i++ {
		children, err := c.children(ctx, deleted[i])
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, children...)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(deleted)), ", ")
	args := make([]any, 0, len(deleted)*2)
	for _, d := range deleted {
		args = append(args, int64(d))
	}

	_, err := c.exec(ctx,
		fmt.Sprintf(`DELETE FROM eav_value WHERE data_id IN (%s) OR data_value_id IN (%s)`, placeholders, placeholders),
		append(args, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete values: %w", err)
	}

	_, err = c.exec(ctx, fmt.Sprintf(`DELETE FROM eav_data WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete data: %w", err)
	}

	return deleted, nil
}
