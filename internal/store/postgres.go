package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres wraps the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const shipmentColumns = `id, tracking_number, manual_tracking_number, barkod, carrier_name,
	status, last_tracking, last_tracked_at, version, created_at, updated_at`

// Candidates selects every shipment with any tracking reference whose status
// is not terminal.
func (p *Postgres) Candidates(ctx context.Context) ([]Shipment, error) {
	query := fmt.Sprintf(`SELECT %s FROM shipments
		WHERE status NOT IN ($1, $2)
		  AND (coalesce(tracking_number, '') <> ''
		    OR coalesce(manual_tracking_number, '') <> ''
		    OR coalesce(barkod, '') <> '')
		ORDER BY id`, shipmentColumns)
	rows, err := p.Pool.Query(ctx, query, StatusDelivered, StatusRejected)
	if err != nil {
		return nil, fmt.Errorf("store: select candidates: %w", err)
	}
	defer rows.Close()

	var shipments []Shipment
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, shipment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate candidates: %w", err)
	}
	return shipments, nil
}

// GetShipment loads one shipment by id.
func (p *Postgres) GetShipment(ctx context.Context, id int64) (Shipment, error) {
	query := fmt.Sprintf(`SELECT %s FROM shipments WHERE id = $1`, shipmentColumns)
	row := p.Pool.QueryRow(ctx, query, id)
	shipment, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, ErrNotFound
	}
	return shipment, err
}

// UpdateShipment applies the provided fields guarded by the version column.
func (p *Postgres) UpdateShipment(ctx context.Context, id, version int64, fields UpdateFields) (Shipment, error) {
	assignments := []string{"version = version + 1", "updated_at = now()"}
	args := []any{id, version}
	place := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if fields.Status != nil {
		assignments = append(assignments, "status = "+place(*fields.Status))
	}
	if fields.TrackingNumber != nil {
		assignments = append(assignments, "tracking_number = "+place(*fields.TrackingNumber))
	}
	if fields.LastTracking != nil {
		assignments = append(assignments, "last_tracking = "+place(fields.LastTracking))
	}
	if fields.LastTrackedAt != nil {
		assignments = append(assignments, "last_tracked_at = "+place(*fields.LastTrackedAt))
	}
	query := fmt.Sprintf(`UPDATE shipments SET %s WHERE id = $1 AND version = $2 RETURNING %s`,
		strings.Join(assignments, ", "), shipmentColumns)
	row := p.Pool.QueryRow(ctx, query, args...)
	shipment, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or someone advanced the version under us.
		if _, getErr := p.GetShipment(ctx, id); errors.Is(getErr, ErrNotFound) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, ErrVersionConflict
	}
	return shipment, err
}

// InsertTrackingEvent appends a row to the tracking_events outbox table.
func (p *Postgres) InsertTrackingEvent(ctx context.Context, topic string, shipmentID int64, payload []byte) error {
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO tracking_events (topic, shipment_id, payload) VALUES ($1, $2, $3)`,
		topic, shipmentID, payload)
	if err != nil {
		return fmt.Errorf("store: insert tracking event: %w", err)
	}
	return nil
}

// PingDB probes the pool for readiness checks.
func (p *Postgres) PingDB(ctx context.Context, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Pool.Ping(probeCtx)
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var (
		shipment      Shipment
		tracking      *string
		manual        *string
		barkod        *string
		carrier       *string
		lastTracking  []byte
		lastTrackedAt *time.Time
	)
	err := row.Scan(
		&shipment.ID, &tracking, &manual, &barkod, &carrier,
		&shipment.Status, &lastTracking, &lastTrackedAt,
		&shipment.Version, &shipment.CreatedAt, &shipment.UpdatedAt,
	)
	if err != nil {
		return Shipment{}, err
	}
	shipment.TrackingNumber = deref(tracking)
	shipment.ManualTrackingNumber = deref(manual)
	shipment.Barkod = deref(barkod)
	shipment.CarrierName = deref(carrier)
	shipment.LastTracking = lastTracking
	shipment.LastTrackedAt = lastTrackedAt
	return shipment, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
