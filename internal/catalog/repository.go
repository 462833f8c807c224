package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	AppendHistory(ctx context.Context, e *HistoryEntry) error
	FindHistoryByHash(ctx context.Context, hash string) (*HistoryEntry, error)
	FindHistoryByPath(ctx context.Context, path string) (*HistoryEntry, error)
	ListHistory(ctx context.Context, limit, offset int) ([]*HistoryEntry, error)
	HistoryStats(ctx context.Context) (*HistoryStats, error)

	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	SaveBatchFiles(ctx context.Context, batchID string, records []*FileRecord) error
	GetBatchFiles(ctx context.Context, batchID string) ([]*FileRecord, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	RecordUpload(ctx context.Context, u *UploadRecord) error
	HasUpload(ctx context.Context, key, hash string) (bool, error)
	ListUploads(ctx context.Context, batchID string) ([]*UploadRecord, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const historyColumns = `id, hash, original_path, original_name, processed_path, processed_name,
	sequence, shot, task, version, size, mtime, batch_id, processed_at`

func (r *SQLiteRepository) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_files (hash, original_path, original_name, processed_path, processed_name,
			sequence, shot, task, version, size, mtime, batch_id, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Hash, e.OriginalPath, e.OriginalName, e.ProcessedPath, e.ProcessedName,
		e.Sequence, e.Shot, e.Task, e.Version, e.Size, formatTime(e.ModTime), nullString(e.BatchID),
		e.ProcessedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteRepository) FindHistoryByHash(ctx context.Context, hash string) (*HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+historyColumns+`
		FROM processed_files WHERE hash = ? ORDER BY id DESC LIMIT 1`, hash)
	return scanHistory(row)
}

func (r *SQLiteRepository) FindHistoryByPath(ctx context.Context, path string) (*HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+historyColumns+`
		FROM processed_files WHERE original_path = ? ORDER BY id DESC LIMIT 1`, path)
	return scanHistory(row)
}

func (r *SQLiteRepository) ListHistory(ctx context.Context, limit, offset int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+historyColumns+`
		FROM processed_files ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*HistoryEntry, error) {
	var e HistoryEntry
	var mtime, batchID sql.NullString
	var processedAt string

	err := row.Scan(&e.ID, &e.Hash, &e.OriginalPath, &e.OriginalName, &e.ProcessedPath, &e.ProcessedName,
		&e.Sequence, &e.Shot, &e.Task, &e.Version, &e.Size, &mtime, &batchID, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.ModTime = parseTime(mtime.String)
	e.BatchID = batchID.String
	e.ProcessedAt = parseTime(processedAt)
	return &e, nil
}

func (r *SQLiteRepository) HistoryStats(ctx context.Context) (*HistoryStats, error) {
	stats := &HistoryStats{
		BySequence: make(map[string]int),
		ByTask:     make(map[string]int),
		ByDay:      make(map[string]int),
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_files").Scan(&stats.TotalFiles); err != nil {
		return nil, err
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{"SELECT sequence, COUNT(*) FROM processed_files GROUP BY sequence", stats.BySequence},
		{"SELECT task, COUNT(*) FROM processed_files GROUP BY task", stats.ByTask},
		{"SELECT substr(processed_at, 1, 10), COUNT(*) FROM processed_files GROUP BY substr(processed_at, 1, 10)", stats.ByDay},
	}
	for _, g := range groups {
		if err := r.countInto(ctx, g.query, g.into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (r *SQLiteRepository) countInto(ctx context.Context, query string, into map[string]int) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

const batchColumns = `id, root, output_dir, recursive, exclude_processed, sequence, status,
	total, processed, succeeded, failed, skipped, cancelled, manifest_path, error, created_at, updated_at`

func (r *SQLiteRepository) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Root, b.OutputDir, boolToInt(b.Recursive), boolToInt(b.ExcludeProcessed), nullString(b.Sequence),
		b.Status, b.Total, b.Processed, b.Succeeded, b.Failed, b.Skipped, boolToInt(b.Cancelled),
		nullString(b.ManifestPath), nullString(b.Error),
		b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	return scanBatch(row)
}

func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+batchColumns+`
		FROM batches ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var recursive, exclude, cancelled int
	var sequence, manifest, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Root, &b.OutputDir, &recursive, &exclude, &sequence, &b.Status,
		&b.Total, &b.Processed, &b.Succeeded, &b.Failed, &b.Skipped, &cancelled,
		&manifest, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Recursive = recursive == 1
	b.ExcludeProcessed = exclude == 1
	b.Cancelled = cancelled == 1
	b.Sequence = sequence.String
	b.ManifestPath = manifest.String
	b.Error = errMsg.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (r *SQLiteRepository) UpdateBatch(ctx context.Context, b *Batch) error {
	b.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, total = ?, processed = ?, succeeded = ?, failed = ?, skipped = ?,
			cancelled = ?, manifest_path = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, b.Status, b.Total, b.Processed, b.Succeeded, b.Failed, b.Skipped, boolToInt(b.Cancelled),
		nullString(b.ManifestPath), nullString(b.Error), b.UpdatedAt.UTC().Format(time.RFC3339), b.ID)
	return err
}

// SaveBatchFiles replaces the stored records of a batch.
func (r *SQLiteRepository) SaveBatchFiles(ctx context.Context, batchID string, records []*FileRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_files WHERE batch_id = ?", batchID); err != nil {
		return err
	}
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO batch_files (batch_id, idx, record) VALUES (?, ?, ?)", batchID, i, string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetBatchFiles(ctx context.Context, batchID string) ([]*FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT record FROM batch_files WHERE batch_id = ? ORDER BY idx", batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec FileRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode batch record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

const jobColumns = `id, type, status, batch_id, project, force_upload, progress, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.BatchID), nullString(j.Project), boolToInt(j.Force),
		j.Progress, nullString(j.Error),
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var batchID, project, errMsg sql.NullString
	var force int
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &batchID, &project, &force, &j.Progress, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.BatchID = batchID.String
	j.Project = project.String
	j.Force = force == 1
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+`
		FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+`
		FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) RecordUpload(ctx context.Context, u *UploadRecord) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (id, upload_key, hash, batch_id, file_name, project, version_id, version_url,
			published_file_id, status, error, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Key, u.Hash, nullString(u.BatchID), u.FileName, u.Project, nullInt(u.VersionID),
		nullString(u.VersionURL), nullInt(u.PublishedFileID), u.Status, nullString(u.Error),
		u.UploadedAt.UTC().Format(time.RFC3339))
	return err
}

// HasUpload reports whether a successful upload exists for key and hash.
func (r *SQLiteRepository) HasUpload(ctx context.Context, key, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM uploads WHERE upload_key = ? AND hash = ? AND status = ? LIMIT 1
	`, key, hash, UploadStatusSuccess).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r *SQLiteRepository) ListUploads(ctx context.Context, batchID string) ([]*UploadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, upload_key, hash, batch_id, file_name, project, version_id, version_url,
			published_file_id, status, error, uploaded_at
		FROM uploads WHERE batch_id = ? ORDER BY uploaded_at, rowid
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*UploadRecord
	for rows.Next() {
		var u UploadRecord
		var batch, url, errMsg sql.NullString
		var versionID, publishedID sql.NullInt64
		var uploadedAt string
		if err := rows.Scan(&u.ID, &u.Key, &u.Hash, &batch, &u.FileName, &u.Project, &versionID, &url,
			&publishedID, &u.Status, &errMsg, &uploadedAt); err != nil {
			return nil, err
		}
		u.BatchID = batch.String
		u.VersionID = int(versionID.Int64)
		u.VersionURL = url.String
		u.PublishedFileID = int(publishedID.Int64)
		u.Error = errMsg.String
		u.UploadedAt = parseTime(uploadedAt)
		uploads = append(uploads, &u)
	}
	return uploads, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}
