package place

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qwermap/qwermap/internal/tracing"
)

// PostgresRepository implements Repository on PostgreSQL with PostGIS.
// Proximity queries use geography-typed ST_DWithin/ST_Distance so radii and
// distances are in meters on the spheroid.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a Postgres-backed place repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// placeColumns is the shared select list. Location is read back as ST_X/ST_Y
// so the scanner never parses WKB.
const placeColumns = `
	id, transaction_id, name, ST_X(location), ST_Y(location), place_type,
	category, status, upvote_count, safety_score, description, era, photos,
	address, additional_info, events, related_figures, movements,
	community_tags, site_types, year_opened, year_closed, still_exists,
	significance, attestation, upvoted_by, created_at, indexed_at`

// Insert stores a new place.
func (r *PostgresRepository) Insert(ctx context.Context, p *Place) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "places", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	additionalInfo, err := marshalJSONB(p.AdditionalInfo)
	if err != nil {
		return fmt.Errorf("marshal additional_info: %w", err)
	}
	events, err := marshalJSONB(p.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	figures, err := marshalJSONB(p.RelatedFigures)
	if err != nil {
		return fmt.Errorf("marshal related_figures: %w", err)
	}
	attestation, err := marshalJSONB(p.Attestation)
	if err != nil {
		return fmt.Errorf("marshal attestation: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO places (
			id, transaction_id, name, location, place_type, category, status,
			upvote_count, safety_score, description, era, photos, address,
			additional_info, events, related_figures, movements,
			community_tags, site_types, year_opened, year_closed,
			still_exists, significance, attestation, upvoted_by,
			created_at, indexed_at
		) VALUES (
			$1, NULLIF($2, ''), $3, ST_SetSRID(ST_MakePoint($4, $5), 4326),
			$6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13,
			NULLIF($14, ''), $15, $16, $17, $18, $19, $20, $21, $22,
			NULLIF($23, ''), NULLIF($24, ''), $25, $26, $27, $28
		)`,
		p.ID, p.TransactionID, p.Name, p.Location.Lon(), p.Location.Lat(),
		p.PlaceType, p.Category, p.Status, p.UpvoteCount, p.SafetyScore,
		p.Description, p.Era, pq.Array(p.Photos), p.Address,
		additionalInfo, events, figures, pq.Array(p.Movements),
		pq.Array(p.CommunityTags), pq.Array(p.SiteTypes),
		p.YearOpened, p.YearClosed, p.StillExists, p.Significance,
		attestation, pq.Array(p.UpvotedBy), p.CreatedAt, nullableTime(p.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("insert place: %w", err)
	}
	return nil
}

// GetByID retrieves a place by its store-assigned id. The id column is a
// UUID, so anything that does not parse as one cannot match.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Place, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id = $1`, id)
	return scanPlace(row)
}

// GetByTransactionID retrieves a place by its attestation transaction id.
func (r *PostgresRepository) GetByTransactionID(ctx context.Context, txID string) (*Place, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE transaction_id = $1`, txID)
	return scanPlace(row)
}

// SearchNear returns places within the radius ordered by ascending distance.
func (r *PostgresRepository) SearchNear(ctx context.Context, q NearQuery) (_ []Near, _ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "places", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	where := `ST_DWithin(geography(location), geography(ST_SetSRID(ST_MakePoint($1, $2), 4326)), $3)`
	args := []any{q.Lon, q.Lat, q.RadiusMeters}

	if q.PlaceType != "" && q.PlaceType != TypeAll {
		args = append(args, q.PlaceType)
		where += fmt.Sprintf(" AND place_type = $%d", len(args))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	// Total match count is computed independently of pagination.
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM places WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count places: %w", err)
	}

	query := `SELECT ` + placeColumns + `,
		ST_Distance(geography(location), geography(ST_SetSRID(ST_MakePoint($1, $2), 4326))) AS distance_meters
		FROM places WHERE ` + where + `
		ORDER BY distance_meters ASC, id ASC`
	args = append(args, q.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, q.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search places: %w", err)
	}
	defer rows.Close()

	results := []Near{}
	for rows.Next() {
		p, distance, err := scanPlaceWithDistance(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, Near{Place: p, DistanceMeters: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate places: %w", err)
	}
	return results, total, nil
}

// IncrementUpvote atomically bumps the counter in a single UPDATE; the
// returned count reflects this increment even under concurrent upvotes.
func (r *PostgresRepository) IncrementUpvote(ctx context.Context, id, fingerprint, txID string) (_ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "places", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	var count int
	err = r.db.QueryRowContext(ctx, `
		UPDATE places SET
			upvote_count = upvote_count + 1,
			upvoted_by = array_append(COALESCE(upvoted_by, '{}'), $2),
			indexed_at = now(),
			attestation = jsonb_set(
				jsonb_set(
					COALESCE(attestation, '{}'::jsonb),
					'{raw_data}',
					COALESCE(attestation->'raw_data', '{}'::jsonb),
					true
				),
				'{raw_data,last_upvote_tx}', to_jsonb($3::text), true
			)
		WHERE id = $1
		RETURNING upvote_count`,
		id, fingerprint, txID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment upvote: %w", err)
	}
	return count, nil
}

// SetSafetyScore stores a recomputed safety score.
func (r *PostgresRepository) SetSafetyScore(ctx context.Context, id string, score float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE places SET safety_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("set safety score: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the moderation status and optional reason.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status, reason string) (_ *Place, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "places", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE places SET
			status = $2,
			additional_info = CASE
				WHEN $3::text <> '' THEN jsonb_set(
					COALESCE(additional_info, '{}'::jsonb),
					'{moderation_reason}', to_jsonb($3::text), true)
				ELSE additional_info
			END,
			indexed_at = now()
		WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// ListPending returns pending places ordered newest-first.
func (r *PostgresRepository) ListPending(ctx context.Context, limit int) ([]*Place, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places
		 WHERE status = $1 ORDER BY created_at DESC, id ASC LIMIT $2`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	places := []*Place{}
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return places, nil
}

// RegionStats counts places and sums upvotes within the radius.
func (r *PostgresRepository) RegionStats(ctx context.Context, lat, lon, radiusMeters float64, status string) (RegionStats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(upvote_count), 0) FROM places
		WHERE ST_DWithin(geography(location), geography(ST_SetSRID(ST_MakePoint($1, $2), 4326)), $3)`
	args := []any{lon, lat, radiusMeters}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var stats RegionStats
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.PlaceCount, &stats.TotalUpvotes); err != nil {
		return RegionStats{}, fmt.Errorf("region stats: %w", err)
	}
	return stats, nil
}

// Heatmap samples approved places within the radius, nearest first.
func (r *PostgresRepository) Heatmap(ctx context.Context, lat, lon, radiusMeters float64) ([]HeatPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ST_X(location), ST_Y(location), safety_score FROM places
		WHERE status = $4
		  AND ST_DWithin(geography(location), geography(ST_SetSRID(ST_MakePoint($1, $2), 4326)), $3)
		ORDER BY ST_Distance(geography(location), geography(ST_SetSRID(ST_MakePoint($1, $2), 4326))) ASC`,
		lon, lat, radiusMeters, StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	defer rows.Close()

	points := []HeatPoint{}
	for rows.Next() {
		var p HeatPoint
		if err := rows.Scan(&p[0], &p[1], &p[2]); err != nil {
			return nil, fmt.Errorf("scan heat point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heat points: %w", err)
	}
	return points, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlace(row rowScanner) (*Place, error) {
	p, _, err := scanPlaceInto(row, false)
	return p, err
}

func scanPlaceWithDistance(row rowScanner) (*Place, float64, error) {
	return scanPlaceInto(row, true)
}

func scanPlaceInto(row rowScanner, withDistance bool) (*Place, float64, error) {
	var (
		p              Place
		txID           sql.NullString
		lon, lat       float64
		description    sql.NullString
		era            sql.NullString
		address        sql.NullString
		additionalInfo []byte
		events         []byte
		figures        []byte
		stillExists    sql.NullString
		significance   sql.NullString
		attestation    []byte
		indexedAt      sql.NullTime
		distance       float64
	)

	dest := []any{
		&p.ID, &txID, &p.Name, &lon, &lat, &p.PlaceType, &p.Category,
		&p.Status, &p.UpvoteCount, &p.SafetyScore, &description, &era,
		pq.Array(&p.Photos), &address, &additionalInfo, &events, &figures,
		pq.Array(&p.Movements), pq.Array(&p.CommunityTags),
		pq.Array(&p.SiteTypes), &p.YearOpened, &p.YearClosed, &stillExists,
		&significance, &attestation, pq.Array(&p.UpvotedBy), &p.CreatedAt,
		&indexedAt,
	}
	if withDistance {
		dest = append(dest, &distance)
	}

	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("scan place: %w", err)
	}

	p.TransactionID = txID.String
	p.Location = NewPoint(lon, lat)
	p.Description = description.String
	p.Era = era.String
	p.Address = address.String
	p.StillExists = stillExists.String
	p.Significance = significance.String
	if indexedAt.Valid {
		p.IndexedAt = indexedAt.Time
	}
	if err := unmarshalJSONB(additionalInfo, &p.AdditionalInfo); err != nil {
		return nil, 0, fmt.Errorf("unmarshal additional_info: %w", err)
	}
	if err := unmarshalJSONB(events, &p.Events); err != nil {
		return nil, 0, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := unmarshalJSONB(figures, &p.RelatedFigures); err != nil {
		return nil, 0, fmt.Errorf("unmarshal related_figures: %w", err)
	}
	if err := unmarshalJSONB(attestation, &p.Attestation); err != nil {
		return nil, 0, fmt.Errorf("unmarshal attestation: %w", err)
	}
	return &p, distance, nil
}

// marshalJSONB encodes a value for a JSONB column; nil stays NULL.
func marshalJSONB(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *Attestation:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []HistoricalEvent:
		if val == nil {
			return nil, nil
		}
	case []RelatedFigure:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// unmarshalJSONB decodes a JSONB column, leaving the target zero for NULL.
func unmarshalJSONB(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
