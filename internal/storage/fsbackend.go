package storage

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// FSBackend stores object bytes on the local filesystem and answers
// listings from a SQLiteIndex, so list_objects never walks a
// directory tree. Each bucket/key/version triple maps to one file
// under root/objects; multipart part bytes live under a separate
// per-upload directory until CompleteMultipartUpload concatenates
// them into the final object file.
type FSBackend struct {
	root  string
	index *SQLiteIndex

	// completeMu serializes CompleteMultipartUpload calls. Get does not
	// take it: a reader never observes a partially concatenated object
	// because assembly happens in a temp file that is renamed into place
	// and only then published to the index.
	completeMu sync.Mutex
}

var _ Backend = (*FSBackend)(nil)

// NewFSBackend opens (or creates) a filesystem backend rooted at dir,
// with its metadata index at dir/index.sqlite.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o700); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create object directory", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "multipart"), 0o700); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create multipart directory", err)
	}
	index, err := OpenSQLiteIndex(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		return nil, err
	}
	return &FSBackend{root: dir, index: index}, nil
}

func (b *FSBackend) objectPath(bucket, key, version string) string {
	return filepath.Join(b.root, "objects", bucket, keyToDirName(key), version+".data")
}

func keyToDirName(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (b *FSBackend) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(b.root, "objects", bucket), 0o700); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create bucket directory", err)
	}
	return b.index.CreateBucket(ctx, bucket)
}

func (b *FSBackend) DeleteBucket(ctx context.Context, bucket string) error {
	return b.index.DeleteBucket(ctx, bucket)
}

func (b *FSBackend) HeadBucket(ctx context.Context, bucket string) error {
	ok, err := b.index.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.New(apierr.KindResource, apierr.CodeNoSuchBucket, "bucket does not exist").WithResource(bucket)
	}
	return nil
}

func (b *FSBackend) ListBuckets(ctx context.Context) ([]string, error) {
	return b.index.ListBuckets(ctx)
}

func (b *FSBackend) Put(ctx context.Context, in PutInput) (ObjectInfo, error) {
	version := uuid.NewString()
	path := b.objectPath(in.Bucket, in.Key, version)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create object parent directory", err)
	}

	hasher := md5.New()
	f, err := os.Create(path)
	if err != nil {
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create object file", err)
	}
	n, err := io.Copy(f, io.TeeReader(io.LimitReader(in.Body, in.Length), hasher))
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write object body", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to close object file", closeErr)
	}

	info := ObjectInfo{
		Bucket:       in.Bucket,
		Key:          in.Key,
		VersionID:    version,
		Size:         n,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		ContentType:  in.ContentType,
		LastModified: time.Now().UTC(),
		IsLatest:     true,
		SSEKMSKeyID:  in.SSEKMSKeyID,
		UserMetadata: in.Metadata,
	}
	if err := b.index.PutObjectRecord(ctx, info); err != nil {
		os.Remove(path)
		return ObjectInfo{}, err
	}
	return info, nil
}

func (b *FSBackend) Get(ctx context.Context, bucket, key, version string) (io.ReadCloser, ObjectInfo, error) {
	info, err := b.index.GetObjectRecord(ctx, bucket, key, version)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if info.IsDeleteMarker {
		return nil, ObjectInfo{}, apierr.New(apierr.KindResource, apierr.CodeNoSuchKey, "object is a delete marker").WithResource(bucket + "/" + key)
	}
	f, err := os.Open(b.objectPath(bucket, key, info.VersionID))
	if err != nil {
		return nil, ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to open object file", err)
	}
	return f, info, nil
}

func (b *FSBackend) Head(ctx context.Context, bucket, key, version string) (ObjectInfo, error) {
	return b.index.GetObjectRecord(ctx, bucket, key, version)
}

func (b *FSBackend) Delete(ctx context.Context, bucket, key, version string) error {
	if version != "" {
		if err := os.Remove(b.objectPath(bucket, key, version)); err != nil && !os.IsNotExist(err) {
			return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to remove object file", err)
		}
		return b.index.DeleteObjectRecord(ctx, bucket, key, version)
	}
	// No explicit version: record a delete marker as the new latest
	// version rather than destroying history, matching a
	// versioning-aware DeleteObject.
	markerVersion := uuid.NewString()
	info := ObjectInfo{
		Bucket:         bucket,
		Key:            key,
		VersionID:      markerVersion,
		IsDeleteMarker: true,
		IsLatest:       true,
		LastModified:   time.Now().UTC(),
	}
	return b.index.PutObjectRecord(ctx, info)
}

func (b *FSBackend) Copy(ctx context.Context, srcBucket, srcKey, srcVersion, dstBucket, dstKey string) (ObjectInfo, error) {
	r, srcInfo, err := b.Get(ctx, srcBucket, srcKey, srcVersion)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer r.Close()
	return b.Put(ctx, PutInput{
		Bucket:      dstBucket,
		Key:         dstKey,
		Body:        r,
		Length:      srcInfo.Size,
		ContentType: srcInfo.ContentType,
		Metadata:    srcInfo.UserMetadata,
		SSEKMSKeyID: srcInfo.SSEKMSKeyID,
	})
}

func (b *FSBackend) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsOutput, error) {
	return b.index.ListObjects(ctx, in)
}

func (b *FSBackend) ListObjectVersions(ctx context.Context, in ListObjectsInput) (ListObjectsOutput, error) {
	return b.index.ListObjectVersions(ctx, in)
}

func (b *FSBackend) BucketConfig(ctx context.Context, bucket string) (BucketConfig, error) {
	return b.index.BucketConfig(ctx, bucket)
}

func (b *FSBackend) SetBucketConfig(ctx context.Context, bucket string, cfg BucketConfig) error {
	return b.index.SetBucketConfig(ctx, bucket, cfg)
}

func (b *FSBackend) multipartDir(bucket, key, uploadID string) string {
	return filepath.Join(b.root, "multipart", bucket, keyToDirName(key), uploadID)
}

func (b *FSBackend) InitiateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	uploadID := uuid.NewString()
	if err := os.MkdirAll(b.multipartDir(bucket, key, uploadID), 0o700); err != nil {
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create multipart upload directory", err)
	}
	return uploadID, nil
}

func (b *FSBackend) partPath(bucket, key, uploadID string, partNumber int) string {
	return filepath.Join(b.multipartDir(bucket, key, uploadID), fmt.Sprintf("%05d.part", partNumber))
}

func (b *FSBackend) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.Reader, length int64) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "part_number must be in [1, 10000]")
	}
	path := b.partPath(bucket, key, uploadID, partNumber)
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return "", apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such multipart upload").WithResource(uploadID)
	}

	hasher := md5.New()
	f, err := os.Create(path)
	if err != nil {
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create part file", err)
	}
	_, err = io.Copy(f, io.TeeReader(io.LimitReader(body, length), hasher))
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write part body", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to close part file", closeErr)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CompleteMultipartUpload validates the part list is contiguous from
// 1, sorts by part number, concatenates part bytes into the final
// object file under a fresh version id, and only then publishes that
// version to the index -- so a concurrent Get observes either the
// pre-complete object or the fully concatenated one, never a partial
// concat.
func (b *FSBackend) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []UploadPartInfo) (ObjectInfo, error) {
	if len(parts) == 0 {
		return ObjectInfo{}, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "complete_multipart_upload requires at least one part")
	}
	sorted := append([]UploadPartInfo(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	for i, p := range sorted {
		if p.PartNumber != i+1 {
			return ObjectInfo{}, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "parts must be contiguous starting at 1")
		}
	}

	b.completeMu.Lock()
	defer b.completeMu.Unlock()

	version := uuid.NewString()
	dstPath := b.objectPath(bucket, key, version)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o700); err != nil {
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create object parent directory", err)
	}
	tmpPath := dstPath + ".assembling"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create assembly file", err)
	}

	var totalSize int64
	digestConcat := make([]byte, 0, len(sorted)*md5.Size)
	for _, p := range sorted {
		partPath := b.partPath(bucket, key, uploadID, p.PartNumber)
		src, err := os.Open(partPath)
		if err != nil {
			dst.Close()
			os.Remove(tmpPath)
			return ObjectInfo{}, apierr.Wrap(apierr.KindResource, apierr.CodeNotFound, "missing part during assembly", err)
		}
		n, err := io.Copy(dst, src)
		src.Close()
		if err != nil {
			dst.Close()
			os.Remove(tmpPath)
			return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to concatenate part", err)
		}
		totalSize += n
		partDigest, err := hex.DecodeString(p.ETag)
		if err == nil {
			digestConcat = append(digestConcat, partDigest...)
		}
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to close assembly file", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return ObjectInfo{}, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to publish assembled object", err)
	}

	finalDigest := md5.Sum(digestConcat)
	etag := hex.EncodeToString(finalDigest[:]) + "-" + strconv.Itoa(len(sorted))

	info := ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		VersionID:    version,
		Size:         totalSize,
		ETag:         etag,
		LastModified: time.Now().UTC(),
		IsLatest:     true,
	}
	if err := b.index.PutObjectRecord(ctx, info); err != nil {
		return ObjectInfo{}, err
	}
	os.RemoveAll(b.multipartDir(bucket, key, uploadID))
	return info, nil
}

func (b *FSBackend) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := os.RemoveAll(b.multipartDir(bucket, key, uploadID)); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to remove aborted multipart upload", err)
	}
	return nil
}
