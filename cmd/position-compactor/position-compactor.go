package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/diwise/eav-store/internal/pkg/application/datastore"
	"github.com/diwise/eav-store/internal/pkg/infrastructure/database"
	"github.com/diwise/eav-store/pkg/eav/schema"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	appName string = "position-compactor"
)

// position-compactor renumbers the positions of multi valued attributes so
// that every sequence of values starts at 0 without gaps. Values belong to the
// same sequence when they share data, attribute and the dimensions of the
// attribute's context mask.
func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	log.Debug("begin compacting positions")

	configPath := env.GetVariableOrDefault(ctx, "EAV_STORE_CONFIG_PATH", "/opt/diwise/config/eav-store.yaml")

	masks, err := loadContextMasks(configPath)
	if err != nil {
		log.Error("failed to load data store configuration", "path", configPath, "err", err.Error())
		os.Exit(1)
	}

	p, err := connect(ctx, database.LoadPostgresConfig(ctx))
	if err != nil {
		log.Error("failed to connect to database", "err", err.Error())
		os.Exit(1)
	}
	defer p.Close()

	data, err := getData(ctx, p)
	if err != nil {
		log.Error("failed to get data", "err", err.Error())
		os.Exit(1)
	}

	log.Debug("number of data to inspect", "count", len(data))

	var totalCount int64 = 0

	for _, d := range data {
		l := log.With(slog.Int64("data_id", d.id))

		count, err := compactPositions(ctx, p, masks, d)
		if err != nil {
			l.Error("failed to compact positions", "err", err.Error())
			os.Exit(1)
		}

		if count > 0 {
			l.Debug("compacted positions", slog.Int64("count", count), slog.Time("end_time", time.Now()))
		}

		totalCount += count
	}

	log.Debug("vacuum")

	err = vacuum(ctx, p)
	if err != nil {
		log.Error("failed to vacuum table", "err", err.Error())
		os.Exit(1)
	}

	log.Info("done compacting", slog.Int64("total", totalCount))
}

func loadContextMasks(path string) (contextMasks, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := datastore.LoadConfiguration(f)
	if err != nil {
		return nil, err
	}

	registry, err := schema.NewRegistry(&cfg.Config)
	if err != nil {
		return nil, err
	}

	return newContextMasks(registry), nil
}

func connect(ctx context.Context, cfg database.PostgresConfig) (*pgxpool.Pool, error) {
	conn, err := pgxpool.New(ctx, cfg.ConnStr())
	if err != nil {
		return nil, err
	}

	err = conn.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return conn, err
}

type storedData struct {
	id     int64
	family string
}

func getData(ctx context.Context, p *pgxpool.Pool) ([]storedData, error) {
	rows, err := p.Query(ctx, `SELECT id, family FROM eav_data ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make([]storedData, 0)

	for rows.Next() {
		var d storedData
		err := rows.Scan(&d.id, &d.family)
		if err != nil {
			return nil, err
		}
		data = append(data, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return data, nil
}

func getPositions(ctx context.Context, tx pgx.Tx, dataID int64) ([]storedPosition, error) {
	rows, err := tx.Query(ctx, `SELECT id, attribute_code, context, position FROM eav_value WHERE data_id=$1 FOR UPDATE;`, dataID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]storedPosition, 0)

	for rows.Next() {
		var v storedPosition
		err := rows.Scan(&v.id, &v.attribute, &v.context, &v.position)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

func compactPositions(ctx context.Context, p *pgxpool.Pool, masks contextMasks, d storedData) (count int64, err error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	values, err := getPositions(ctx, tx, d.id)
	if err != nil {
		return 0, err
	}

	updates, err := masks.planCompaction(d.family, values)
	if err != nil {
		return 0, err
	}

	if len(updates) == 0 {
		return 0, tx.Rollback(ctx)
	}

	for _, u := range updates {
		_, err = tx.Exec(ctx, `UPDATE eav_value SET position=$1 WHERE id=$2;`, u.position, u.id)
		if err != nil {
			return 0, err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE eav_data SET version = version + 1 WHERE id=$1;`, d.id)
	if err != nil {
		return 0, err
	}

	return int64(len(updates)), tx.Commit(ctx)
}

func vacuum(ctx context.Context, p *pgxpool.Pool) error {
	_, err := p.Exec(ctx, "VACUUM ANALYZE eav_value;")
	if err != nil {
		return err
	}

	return nil
}
