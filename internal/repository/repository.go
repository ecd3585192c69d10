// Package repository is the narrow relational-persistence boundary for
// users, organization tags, file/chunk records, and passages. It follows
// the teacher's pgxpool.Pool + plain Exec/QueryRow style
// (unified-rag-service's initializeStorage, go-chat-service's
// InitializeDatabase) rather than an ORM.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

// schema mirrors the teacher's inline CREATE TABLE IF NOT EXISTS block,
// applied once at startup by New.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	login TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role VARCHAR(16) NOT NULL DEFAULT 'USER',
	assigned_tags TEXT[] NOT NULL DEFAULT '{}',
	primary_tag TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS organization_tags (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS file_upload (
	file_md5 TEXT NOT NULL,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	total_size BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'UPLOADING',
	scope_tag TEXT NOT NULL DEFAULT '',
	is_public BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	merged_at TIMESTAMPTZ,
	PRIMARY KEY (file_md5, user_id)
);

CREATE TABLE IF NOT EXISTS chunk_info (
	file_md5 TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_md5 TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	PRIMARY KEY (file_md5, chunk_index)
);

CREATE TABLE IF NOT EXISTS passages (
	file_md5 TEXT NOT NULL,
	chunk_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	model_tag TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL,
	scope_tag TEXT NOT NULL DEFAULT '',
	is_public BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (file_md5, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_organization_tags_parent ON organization_tags(parent_id);
CREATE INDEX IF NOT EXISTS idx_file_upload_user ON file_upload(user_id);
CREATE INDEX IF NOT EXISTS idx_passages_file ON passages(file_md5);
`

// Repository bundles all relational access behind one pgxpool-backed type,
// mirroring the teacher's single-struct-owns-the-pool pattern.
type Repository struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperr.Upstream("connect to relational store", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, apperr.Upstream("apply relational schema", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() { r.pool.Close() }

// wrapIfErr wraps err as an Upstream error, or returns nil if err is nil.
// Needed at call sites that pass through a possibly-nil error (rows.Err(),
// tx.Commit) rather than one already known non-nil.
func wrapIfErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Upstream(msg, err)
}

// ---- Users ----

func (r *Repository) CreateUser(ctx context.Context, u *model.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, login, password_hash, role, assigned_tags, primary_tag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Login, u.PasswordHash, u.Role, u.AssignedTags, u.PrimaryTag, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("login already registered")
	}
	if err != nil {
		return apperr.Upstream("insert user", err)
	}
	return nil
}

func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, login, password_hash, role, assigned_tags, primary_tag, created_at, updated_at
		FROM users WHERE login = $1`, login)
	return scanUser(row)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, login, password_hash, role, assigned_tags, primary_tag, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *Repository) SetUserAssignedTags(ctx context.Context, userID string, tags []string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE users SET assigned_tags = $1, updated_at = now() WHERE id = $2`, tags, userID)
	if err != nil {
		return apperr.Upstream("update assigned tags", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.AssignedTags, &u.PrimaryTag, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Upstream("scan user", err)
	}
	return &u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, login, password_hash, role, assigned_tags, primary_tag, created_at, updated_at
		FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Upstream("list users", err)
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.AssignedTags, &u.PrimaryTag, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, apperr.Upstream("scan user", err)
		}
		out = append(out, u)
	}
	return out, wrapIfErr("iterate users", rows.Err())
}

// ---- Organization tags ----

func (r *Repository) CreateTag(ctx context.Context, t *model.OrganizationTag) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO organization_tags (id, name, description, parent_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Description, t.ParentID, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("tag id already exists")
	}
	if err != nil {
		return apperr.Upstream("insert tag", err)
	}
	return nil
}

func (r *Repository) GetTag(ctx context.Context, id string) (*model.OrganizationTag, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, parent_id, created_by, created_at, updated_at
		FROM organization_tags WHERE id = $1`, id)
	var t model.OrganizationTag
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.ParentID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("tag not found")
	}
	if err != nil {
		return nil, apperr.Upstream("scan tag", err)
	}
	return &t, nil
}

func (r *Repository) UpdateTagParent(ctx context.Context, id, parentID string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE organization_tags SET parent_id = $1, updated_at = now() WHERE id = $2`, parentID, id)
	if err != nil {
		return apperr.Upstream("update tag parent", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("tag not found")
	}
	return nil
}

func (r *Repository) DeleteTag(ctx context.Context, id string) error {
	var children int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM organization_tags WHERE parent_id = $1`, id).Scan(&children); err != nil {
		return apperr.Upstream("count tag children", err)
	}
	if children > 0 {
		return apperr.Conflict("tag has children")
	}
	var refs int
	if err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM users WHERE primary_tag = $1 OR $1 = ANY(assigned_tags)`, id).Scan(&refs); err != nil {
		return apperr.Upstream("count tag references", err)
	}
	if refs > 0 {
		return apperr.Conflict("tag is in use")
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM organization_tags WHERE id = $1`, id)
	if err != nil {
		return apperr.Upstream("delete tag", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("tag not found")
	}
	return nil
}

// ---- File / chunk records ----

func (r *Repository) GetFileRecord(ctx context.Context, fingerprint, userID string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at, merged_at
		FROM file_upload WHERE file_md5 = $1 AND user_id = $2`, fingerprint, userID)
	return scanFileRecord(row)
}

func (r *Repository) GetFileRecordByFingerprint(ctx context.Context, fingerprint string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at, merged_at
		FROM file_upload WHERE file_md5 = $1`, fingerprint)
	return scanFileRecord(row)
}

// GetFileRecordByFilename resolves a merged file by its stored name, for
// the download path of spec §6 (GET /documents/download?fileName=), which
// addresses the merged object by name rather than fingerprint.
func (r *Repository) GetFileRecordByFilename(ctx context.Context, filename string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at, merged_at
		FROM file_upload WHERE filename = $1 AND status = 'MERGED' ORDER BY merged_at DESC LIMIT 1`, filename)
	return scanFileRecord(row)
}

func scanFileRecord(row pgx.Row) (*model.FileRecord, error) {
	var f model.FileRecord
	var mergedAt *time.Time
	err := row.Scan(&f.Fingerprint, &f.UserID, &f.Filename, &f.TotalSize, &f.Status, &f.ScopeTag, &f.IsPublic, &f.CreatedAt, &mergedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, apperr.Upstream("scan file record", err)
	}
	if mergedAt != nil {
		f.MergedAt = *mergedAt
	}
	return &f, nil
}

func (r *Repository) CreateFileRecord(ctx context.Context, f *model.FileRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO file_upload (file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (file_md5, user_id) DO NOTHING`,
		f.Fingerprint, f.UserID, f.Filename, f.TotalSize, f.Status, f.ScopeTag, f.IsPublic, f.CreatedAt)
	if err != nil {
		return apperr.Upstream("insert file record", err)
	}
	return nil
}

func (r *Repository) MarkFileMerged(ctx context.Context, fingerprint, userID string, mergedAt time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE file_upload SET status = 'MERGED', merged_at = $1
		WHERE file_md5 = $2 AND user_id = $3 AND status = 'UPLOADING'`,
		mergedAt, fingerprint, userID)
	if err != nil {
		return apperr.Upstream("mark file merged", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.Conflict("file already merged or not found")
	}
	return nil
}

func (r *Repository) DeleteFileCascade(ctx context.Context, fingerprint, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Upstream("begin delete transaction", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM passages WHERE file_md5 = $1`, fingerprint); err != nil {
		return apperr.Upstream("delete passages", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunk_info WHERE file_md5 = $1`, fingerprint); err != nil {
		return apperr.Upstream("delete chunk info", err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM file_upload WHERE file_md5 = $1 AND user_id = $2`, fingerprint, userID)
	if err != nil {
		return apperr.Upstream("delete file record", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("file not found")
	}
	return wrapIfErr("commit delete transaction", tx.Commit(ctx))
}

// ListFilesByOwner implements the "owner" half of spec §6's
// GET /documents/uploads|accessible pair.
func (r *Repository) ListFilesByOwner(ctx context.Context, userID string) ([]model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at, merged_at
		FROM file_upload WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Upstream("list owned files", err)
	}
	defer rows.Close()
	return scanFileRecords(rows)
}

// ListFilesAccessible implements the "accessible" half of spec §6's
// document listing pair: merged files the caller owns, that are public,
// or whose scope tag is in the caller's effective tag set.
func (r *Repository) ListFilesAccessible(ctx context.Context, userID string, scopeTags []string) ([]model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_md5, user_id, filename, total_size, status, scope_tag, is_public, created_at, merged_at
		FROM file_upload
		WHERE status = 'MERGED' AND (user_id = $1 OR is_public = true OR scope_tag = ANY($2))
		ORDER BY created_at DESC`, userID, scopeTags)
	if err != nil {
		return nil, apperr.Upstream("list accessible files", err)
	}
	defer rows.Close()
	return scanFileRecords(rows)
}

func scanFileRecords(rows pgx.Rows) ([]model.FileRecord, error) {
	var out []model.FileRecord
	for rows.Next() {
		var f model.FileRecord
		var mergedAt *time.Time
		if err := rows.Scan(&f.Fingerprint, &f.UserID, &f.Filename, &f.TotalSize, &f.Status, &f.ScopeTag, &f.IsPublic, &f.CreatedAt, &mergedAt); err != nil {
			return nil, apperr.Upstream("scan file record", err)
		}
		if mergedAt != nil {
			f.MergedAt = *mergedAt
		}
		out = append(out, f)
	}
	return out, wrapIfErr("iterate file records", rows.Err())
}

func (r *Repository) SaveChunkMeta(ctx context.Context, c *model.ChunkRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chunk_info (file_md5, chunk_index, chunk_md5, storage_path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_md5, chunk_index) DO UPDATE SET chunk_md5 = $3, storage_path = $4`,
		c.Fingerprint, c.Index, c.ChunkFingerprint, c.StoragePath)
	if err != nil {
		return apperr.Upstream("save chunk metadata", err)
	}
	return nil
}

func (r *Repository) ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_md5, chunk_index, chunk_md5, storage_path
		FROM chunk_info WHERE file_md5 = $1 ORDER BY chunk_index ASC`, fingerprint)
	if err != nil {
		return nil, apperr.Upstream("list chunk metadata", err)
	}
	defer rows.Close()
	var out []model.ChunkRecord
	for rows.Next() {
		var c model.ChunkRecord
		if err := rows.Scan(&c.Fingerprint, &c.Index, &c.ChunkFingerprint, &c.StoragePath); err != nil {
			return nil, apperr.Upstream("scan chunk metadata", err)
		}
		out = append(out, c)
	}
	return out, wrapIfErr("iterate chunk metadata", rows.Err())
}

// ---- Passages ----

func (r *Repository) SavePassage(ctx context.Context, p *model.Passage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO passages (file_md5, chunk_id, content, model_tag, owner, scope_tag, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (file_md5, chunk_id) DO UPDATE SET content = $3, model_tag = $4`,
		p.Fingerprint, p.ChunkID, p.Text, p.ModelTag, p.Owner, p.ScopeTag, p.IsPublic)
	if err != nil {
		return apperr.Upstream("save passage", err)
	}
	return nil
}

func (r *Repository) ListPassages(ctx context.Context, fingerprint string) ([]model.Passage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_md5, chunk_id, content, model_tag, owner, scope_tag, is_public
		FROM passages WHERE file_md5 = $1 ORDER BY chunk_id ASC`, fingerprint)
	if err != nil {
		return nil, apperr.Upstream("list passages", err)
	}
	defer rows.Close()
	var out []model.Passage
	for rows.Next() {
		var p model.Passage
		if err := rows.Scan(&p.Fingerprint, &p.ChunkID, &p.Text, &p.ModelTag, &p.Owner, &p.ScopeTag, &p.IsPublic); err != nil {
			return nil, apperr.Upstream("scan passage", err)
		}
		out = append(out, p)
	}
	return out, wrapIfErr("iterate passages", rows.Err())
}

// FilenamesByFingerprint performs one batched lookup for search-result
// enrichment (spec §4.6 step 4: "a single batched repository lookup").
func (r *Repository) FilenamesByFingerprint(ctx context.Context, fingerprints []string) (map[string]string, error) {
	out := make(map[string]string, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT file_md5, filename FROM file_upload WHERE file_md5 = ANY($1)`, fingerprints)
	if err != nil {
		return nil, apperr.Upstream("batch filename lookup", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp, name string
		if err := rows.Scan(&fp, &name); err != nil {
			return nil, apperr.Upstream("scan filename lookup", err)
		}
		out[fp] = name
	}
	return out, wrapIfErr("iterate filename lookup", rows.Err())
}

func isUniqueViolation(err error) bool {
	return err != nil && (pgErrCode(err) == "23505")
}

// pgErrCode extracts a Postgres SQLSTATE without importing pgconn directly
// into call sites, mirroring how small the teacher keeps its error checks.
func pgErrCode(err error) string {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return ""
}
