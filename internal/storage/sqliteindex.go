package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// SQLiteIndex is the metadata index FSBackend consults for listings,
// so list_objects/list_object_versions never walk the filesystem.
// Object bytes live on disk; only metadata lives here.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if absent) the sqlite database at
// path and ensures its schema exists.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to open metadata index", err)
	}
	// The objects table is keyed by (bucket, key, version_id); is_latest
	// is denormalized so listings never need a correlated subquery.
	const schema = `
CREATE TABLE IF NOT EXISTS objects (
	bucket           TEXT NOT NULL,
	key              TEXT NOT NULL,
	version_id       TEXT NOT NULL,
	size             INTEGER NOT NULL,
	etag             TEXT NOT NULL,
	content_type     TEXT NOT NULL,
	last_modified    INTEGER NOT NULL,
	is_delete_marker INTEGER NOT NULL,
	is_latest        INTEGER NOT NULL,
	sse_kms_key_id   TEXT NOT NULL DEFAULT '',
	user_metadata    TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (bucket, key, version_id)
);
CREATE INDEX IF NOT EXISTS idx_objects_listing ON objects (bucket, key, is_latest);

CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	config     TEXT NOT NULL DEFAULT '{}'
);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to initialize metadata index schema", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (idx *SQLiteIndex) Close() error { return idx.db.Close() }

func (idx *SQLiteIndex) CreateBucket(ctx context.Context, bucket string) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets (name, created_at, config) VALUES (?, ?, '{}')`,
		bucket, time.Now().UTC().Unix())
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to record bucket", err)
	}
	return nil
}

func (idx *SQLiteIndex) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, bucket)
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to delete bucket record", err)
	}
	return nil
}

func (idx *SQLiteIndex) BucketExists(ctx context.Context, bucket string) (bool, error) {
	var count int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket).Scan(&count)
	if err != nil {
		return false, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to check bucket existence", err)
	}
	return count > 0, nil
}

func (idx *SQLiteIndex) ListBuckets(ctx context.Context) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT name FROM buckets ORDER BY name`)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to list buckets", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to scan bucket row", err)
		}
		out = append(out, name)
	}
	return out, nil
}

func (idx *SQLiteIndex) BucketConfig(ctx context.Context, bucket string) (BucketConfig, error) {
	var raw string
	err := idx.db.QueryRowContext(ctx, `SELECT config FROM buckets WHERE name = ?`, bucket).Scan(&raw)
	if err == sql.ErrNoRows {
		return BucketConfig{}, apierr.New(apierr.KindResource, apierr.CodeNoSuchBucket, "bucket does not exist").WithResource(bucket)
	}
	if err != nil {
		return BucketConfig{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read bucket config", err)
	}
	var cfg BucketConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return BucketConfig{}, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to parse bucket config", err)
	}
	return cfg, nil
}

func (idx *SQLiteIndex) SetBucketConfig(ctx context.Context, bucket string, cfg BucketConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to serialize bucket config", err)
	}
	res, err := idx.db.ExecContext(ctx, `UPDATE buckets SET config = ? WHERE name = ?`, string(raw), bucket)
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write bucket config", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.KindResource, apierr.CodeNoSuchBucket, "bucket does not exist").WithResource(bucket)
	}
	return nil
}

// PutObjectRecord upserts one object version as the latest, clearing
// is_latest on every other version of the same key (delete markers
// included).
func (idx *SQLiteIndex) PutObjectRecord(ctx context.Context, info ObjectInfo) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to begin index transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE objects SET is_latest = 0 WHERE bucket = ? AND key = ?`,
		info.Bucket, info.Key); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to demote prior object versions", err)
	}

	meta, err := json.Marshal(info.UserMetadata)
	if err != nil {
		return apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to serialize object metadata", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO objects (bucket, key, version_id, size, etag, content_type, last_modified, is_delete_marker, is_latest, sse_kms_key_id, user_metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (bucket, key, version_id) DO UPDATE SET
	size = excluded.size, etag = excluded.etag, content_type = excluded.content_type,
	last_modified = excluded.last_modified, is_delete_marker = excluded.is_delete_marker,
	is_latest = 1, sse_kms_key_id = excluded.sse_kms_key_id, user_metadata = excluded.user_metadata`,
		info.Bucket, info.Key, info.VersionID, info.Size, info.ETag, info.ContentType,
		info.LastModified.UTC().UnixNano(), boolToInt(info.IsDeleteMarker), info.SSEKMSKeyID, string(meta),
	); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to upsert object record", err)
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to commit index transaction", err)
	}
	return nil
}

func (idx *SQLiteIndex) DeleteObjectRecord(ctx context.Context, bucket, key, version string) error {
	_, err := idx.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND key = ? AND version_id = ?`,
		bucket, key, version)
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to delete object record", err)
	}
	return nil
}

func (idx *SQLiteIndex) GetObjectRecord(ctx context.Context, bucket, key, version string) (ObjectInfo, error) {
	var query string
	var args []interface{}
	if version == "" {
		query = `SELECT bucket, key, version_id, size, etag, content_type, last_modified, is_delete_marker, is_latest, sse_kms_key_id, user_metadata
			FROM objects WHERE bucket = ? AND key = ? AND is_latest = 1`
		args = []interface{}{bucket, key}
	} else {
		query = `SELECT bucket, key, version_id, size, etag, content_type, last_modified, is_delete_marker, is_latest, sse_kms_key_id, user_metadata
			FROM objects WHERE bucket = ? AND key = ? AND version_id = ?`
		args = []interface{}{bucket, key, version}
	}
	row := idx.db.QueryRowContext(ctx, query, args...)
	info, err := scanObjectInfo(row)
	if err == sql.ErrNoRows {
		return ObjectInfo{}, apierr.New(apierr.KindResource, apierr.CodeNoSuchKey, "object does not exist").WithResource(bucket + "/" + key)
	}
	if err != nil {
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read object record", err)
	}
	return info, nil
}

func scanObjectInfo(row *sql.Row) (ObjectInfo, error) {
	var info ObjectInfo
	var lastModifiedNanos int64
	var isDeleteMarker, isLatest int
	var metaRaw string
	err := row.Scan(&info.Bucket, &info.Key, &info.VersionID, &info.Size, &info.ETag, &info.ContentType,
		&lastModifiedNanos, &isDeleteMarker, &isLatest, &info.SSEKMSKeyID, &metaRaw)
	if err != nil {
		return ObjectInfo{}, err
	}
	info.LastModified = time.Unix(0, lastModifiedNanos).UTC()
	info.IsDeleteMarker = isDeleteMarker != 0
	info.IsLatest = isLatest != 0
	_ = json.Unmarshal([]byte(metaRaw), &info.UserMetadata)
	return info, nil
}

// ListObjects implements the paginated, delimiter-grouping listing
// contract over the latest version of each key.
func (idx *SQLiteIndex) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsOutput, error) {
	return idx.list(ctx, in, false)
}

// ListObjectVersions is the same contract but over every version of
// every key, not just the latest.
func (idx *SQLiteIndex) ListObjectVersions(ctx context.Context, in ListObjectsInput) (ListObjectsOutput, error) {
	return idx.list(ctx, in, true)
}

func (idx *SQLiteIndex) list(ctx context.Context, in ListObjectsInput, allVersions bool) (ListObjectsOutput, error) {
	maxKeys := in.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	marker := in.Marker
	if in.ContinuationToken != "" {
		marker = in.ContinuationToken
	}

	query := `SELECT bucket, key, version_id, size, etag, content_type, last_modified, is_delete_marker, is_latest, sse_kms_key_id, user_metadata
		FROM objects WHERE bucket = ? AND key > ?`
	args := []interface{}{in.Bucket, marker}
	if in.Prefix != "" {
		query += ` AND key LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(in.Prefix))
	}
	if !allVersions {
		query += ` AND is_latest = 1`
	}
	query += ` ORDER BY key ASC, version_id ASC LIMIT ?`
	args = append(args, maxKeys+1)

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ListObjectsOutput{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to list objects", err)
	}
	defer rows.Close()

	var all []ObjectInfo
	for rows.Next() {
		var info ObjectInfo
		var lastModifiedNanos int64
		var isDeleteMarker, isLatest int
		var metaRaw string
		if err := rows.Scan(&info.Bucket, &info.Key, &info.VersionID, &info.Size, &info.ETag, &info.ContentType,
			&lastModifiedNanos, &isDeleteMarker, &isLatest, &info.SSEKMSKeyID, &metaRaw); err != nil {
			return ListObjectsOutput{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to scan object row", err)
		}
		info.LastModified = time.Unix(0, lastModifiedNanos).UTC()
		info.IsDeleteMarker = isDeleteMarker != 0
		info.IsLatest = isLatest != 0
		_ = json.Unmarshal([]byte(metaRaw), &info.UserMetadata)
		all = append(all, info)
	}

	out := ListObjectsOutput{}
	truncated := len(all) > maxKeys
	if truncated {
		all = all[:maxKeys]
	}

	if in.Delimiter == "" {
		out.Objects = all
	} else {
		seen := map[string]bool{}
		for _, info := range all {
			rest := strings.TrimPrefix(info.Key, in.Prefix)
			if idx := strings.Index(rest, in.Delimiter); idx >= 0 {
				cp := in.Prefix + rest[:idx+len(in.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, cp)
				}
				continue
			}
			out.Objects = append(out.Objects, info)
		}
		sort.Strings(out.CommonPrefixes)
	}

	out.IsTruncated = truncated
	if truncated && len(all) > 0 {
		last := all[len(all)-1].Key
		out.NextMarker = last
		out.NextContinuationToken = last
	}
	return out, nil
}

func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
