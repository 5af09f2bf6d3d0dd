package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/datacapture/pkg/models"
)

const pgUniqueViolation = "23505"

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (p *PostgresBackend) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapUniqueViolation turns a unique constraint failure into the matching sentinel.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "grants_collection_principal_key":
		return ErrDuplicateGrant
	case "collections_name_key":
		return ErrDuplicateName
	case "datasets_collection_name_key":
		return ErrDuplicateDataset
	case "principals_email_key":
		return ErrDuplicateEmail
	}
	return err
}

// --- Principals ---

func (p *PostgresBackend) CreatePrincipal(ctx context.Context, pr *models.Principal) error {
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now().UTC()
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO principals (display_name, email, kind, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		pr.DisplayName, pr.Email, string(pr.Kind), pr.CreatedAt,
	).Scan(&pr.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (p *PostgresBackend) GetPrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, display_name, email, kind, created_at FROM principals WHERE id = $1`,
		id,
	)
	return scanPrincipal(row)
}

func (p *PostgresBackend) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, display_name, email, kind, created_at FROM principals WHERE lower(email) = lower($1)`,
		email,
	)
	return scanPrincipal(row)
}

func (p *PostgresBackend) GetVirtualPrincipal(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, display_name, email, kind, created_at FROM principals WHERE kind = $1`,
		string(kind),
	)
	return scanPrincipal(row)
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var pr models.Principal
	var kind string
	if err := row.Scan(&pr.ID, &pr.DisplayName, &pr.Email, &kind, &pr.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pr.Kind = models.PrincipalKind(kind)
	return &pr, nil
}

// --- Collections ---

const collectionColumns = `id, owner_id, name, description, brief_desc, spatial_type, spatial_coverage,
	coverage_start, coverage_end, storage_key, unique_key, persistent_id, published,
	created_at, modified_at, modified_by`

// CreateCollection inserts the collection and its default grants in one transaction.
func (p *PostgresBackend) CreateCollection(ctx context.Context, col *models.Collection, defaults []*models.Grant) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO collections (owner_id, name, description, brief_desc, spatial_type, spatial_coverage,
			     coverage_start, coverage_end, storage_key, unique_key, persistent_id, published,
			     created_at, modified_at, modified_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 RETURNING id`,
			col.OwnerID, col.Name, col.Description, col.BriefDesc, col.SpatialType, col.SpatialCoverage,
			col.CoverageStart, col.CoverageEnd, col.StorageKey, col.UniqueKey, col.PersistentID, col.Published,
			col.CreatedAt, col.ModifiedAt, col.ModifiedBy,
		).Scan(&col.ID)
		if err != nil {
			return fmt.Errorf("inserting collection: %w", mapUniqueViolation(err))
		}
		for _, g := range defaults {
			g.CollectionID = col.ID
			if err := insertGrant(ctx, tx, g); err != nil {
				return fmt.Errorf("inserting default grant: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresBackend) UpdateCollection(ctx context.Context, col *models.Collection) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collections
		 SET name = $2, description = $3, brief_desc = $4, spatial_type = $5, spatial_coverage = $6,
		     coverage_start = $7, coverage_end = $8, modified_at = $9, modified_by = $10
		 WHERE id = $1`,
		col.ID, col.Name, col.Description, col.BriefDesc, col.SpatialType, col.SpatialCoverage,
		col.CoverageStart, col.CoverageEnd, col.ModifiedAt, col.ModifiedBy,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	return scanCollection(row)
}

func scanCollection(row pgx.Row) (*models.Collection, error) {
	var c models.Collection
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.BriefDesc, &c.SpatialType, &c.SpatialCoverage,
		&c.CoverageStart, &c.CoverageEnd, &c.StorageKey, &c.UniqueKey, &c.PersistentID, &c.Published,
		&c.CreatedAt, &c.ModifiedAt, &c.ModifiedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresBackend) CollectionNameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE lower(name) = lower($1) AND id <> $2)`,
		name, excludeID,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresBackend) ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]*models.Collection, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE owner_id = $1 ORDER BY modified_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []*models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (p *PostgresBackend) DeleteCollection(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) MarkPublished(ctx context.Context, id int64, persistentID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collections SET published = TRUE, persistent_id = $2 WHERE id = $1`,
		id, persistentID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) TouchCollection(ctx context.Context, id, modifiedBy int64, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE collections SET modified_at = $2, modified_by = $3 WHERE id = $1`,
		id, at, modifiedBy,
	)
	return err
}

// --- Grants ---

const grantColumns = `g.id, g.collection_id, g.principal_id, pr.kind, pr.display_name,
	g.view_allowed, g.update_allowed, g.import_allowed, g.export_allowed,
	g.delete_allowed, g.md_reg_allowed, g.rac_allowed, g.created_at`

func insertGrant(ctx context.Context, tx pgx.Tx, g *models.Grant) error {
	in := g.Indicators
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO grants (collection_id, principal_id, view_allowed, update_allowed, import_allowed,
		     export_allowed, delete_allowed, md_reg_allowed, rac_allowed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		g.CollectionID, g.PrincipalID, in.View, in.Update, in.Import, in.Export, in.Delete, in.MDRegister, in.RAC,
		g.CreatedAt,
	).Scan(&g.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (p *PostgresBackend) GetGrant(ctx context.Context, collectionID, principalID int64) (*models.Grant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+grantColumns+`
		 FROM grants g JOIN principals pr ON pr.id = g.principal_id
		 WHERE g.collection_id = $1 AND g.principal_id = $2`,
		collectionID, principalID,
	)
	return scanGrant(row)
}

func (p *PostgresBackend) ListGrants(ctx context.Context, collectionID int64) ([]*models.Grant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+grantColumns+`
		 FROM grants g JOIN principals pr ON pr.id = g.principal_id
		 WHERE g.collection_id = $1
		 ORDER BY g.id`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []*models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func scanGrant(row pgx.Row) (*models.Grant, error) {
	var g models.Grant
	var kind string
	in := &g.Indicators
	err := row.Scan(&g.ID, &g.CollectionID, &g.PrincipalID, &kind, &g.DisplayName,
		&in.View, &in.Update, &in.Import, &in.Export, &in.Delete, &in.MDRegister, &in.RAC, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g.PrincipalKind = models.PrincipalKind(kind)
	return &g, nil
}

// ApplyGrantChanges runs deletes, updates and inserts in one transaction. Updates and
// deletes are scoped to collectionID; an id outside it aborts with ErrNotFound.
func (p *PostgresBackend) ApplyGrantChanges(ctx context.Context, collectionID int64, changes models.GrantChangeSet) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		// deletes first so a principal can be removed and re-added in one set
		for _, id := range changes.Delete {
			tag, err := tx.Exec(ctx,
				`DELETE FROM grants WHERE id = $1 AND collection_id = $2`,
				id, collectionID,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("grant %d: %w", id, ErrNotFound)
			}
		}
		for _, upd := range changes.Update {
			in := upd.Flags.Indicators()
			tag, err := tx.Exec(ctx,
				`UPDATE grants
				 SET view_allowed = $3, update_allowed = $4, import_allowed = $5, export_allowed = $6,
				     delete_allowed = $7, md_reg_allowed = $8, rac_allowed = $9
				 WHERE id = $1 AND collection_id = $2`,
				upd.GrantID, collectionID, in.View, in.Update, in.Import, in.Export, in.Delete, in.MDRegister, in.RAC,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("grant %d: %w", upd.GrantID, ErrNotFound)
			}
		}
		for _, ins := range changes.Insert {
			g := &models.Grant{
				CollectionID: collectionID,
				PrincipalID:  ins.PrincipalID,
				Indicators:   ins.Flags.Indicators(),
			}
			if err := insertGrant(ctx, tx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Datasets ---

func (p *PostgresBackend) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO datasets (collection_id, name, storage_path, extractable, restricted_until, imported_at, imported_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		ds.CollectionID, ds.Name, ds.StoragePath, ds.Extractable, ds.RestrictedUntil, ds.ImportedAt, ds.ImportedBy,
	).Scan(&ds.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (p *PostgresBackend) DatasetNameExists(ctx context.Context, collectionID int64, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM datasets WHERE collection_id = $1 AND name = $2)`,
		collectionID, name,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresBackend) ListDatasets(ctx context.Context, collectionID int64) ([]*models.Dataset, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, collection_id, name, storage_path, extractable, restricted_until, imported_at, imported_by
		 FROM datasets WHERE collection_id = $1 ORDER BY imported_at`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Dataset
	for rows.Next() {
		var d models.Dataset
		if err := rows.Scan(&d.ID, &d.CollectionID, &d.Name, &d.StoragePath, &d.Extractable,
			&d.RestrictedUntil, &d.ImportedAt, &d.ImportedBy); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	return p.pool.QueryRow(ctx,
		`INSERT INTO audit_events (created_at, description, owner_id, operator_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		ev.Timestamp, ev.Description, ev.OwnerID, ev.OperatorID,
	).Scan(&ev.ID)
}

func (p *PostgresBackend) QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, created_at, description, owner_id, operator_id FROM audit_events WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.OwnerID != 0 {
		fmt.Fprintf(&query, ` AND owner_id = $%d`, n)
		args = append(args, filter.OwnerID)
		n++
	}
	if filter.OperatorID != 0 {
		fmt.Fprintf(&query, ` AND operator_id = $%d`, n)
		args = append(args, filter.OperatorID)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND created_at >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Description, &e.OwnerID, &e.OperatorID); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Metrics ---

func (p *PostgresBackend) CountCollections(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collections`).Scan(&count)
	return count, err
}

// Ensure PostgresBackend implements StorageBackend.
var _ StorageBackend = (*PostgresBackend)(nil)
