package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *FSBackend {
	t.Helper()
	b, err := NewFSBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func md5Hex(p []byte) string {
	sum := md5.Sum(p)
	return hex.EncodeToString(sum[:])
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))

	body := []byte("hello world")
	info, err := b.Put(ctx, PutInput{Bucket: "bucket", Key: "k", Body: bytes.NewReader(body), Length: int64(len(body))})
	require.NoError(t, err)
	assert.Equal(t, md5Hex(body), info.ETag)

	r, got, err := b.Get(ctx, "bucket", "k", "")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, info.VersionID, got.VersionID)
}

func TestHeadBucketNoSuchBucket(t *testing.T) {
	b := newTestBackend(t)
	err := b.HeadBucket(context.Background(), "ghost")
	require.Error(t, err)
}

func TestDeleteWithoutVersionRecordsDeleteMarkerAndHidesObject(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))
	_, err := b.Put(ctx, PutInput{Bucket: "bucket", Key: "k", Body: bytes.NewReader([]byte("x")), Length: 1})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "bucket", "k", ""))

	_, _, err = b.Get(ctx, "bucket", "k", "")
	require.Error(t, err)
}

func TestListObjectsWithDelimiterGroupsCommonPrefixes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))
	for _, key := range []string{"a/1.txt", "a/2.txt", "b/1.txt", "root.txt"} {
		_, err := b.Put(ctx, PutInput{Bucket: "bucket", Key: key, Body: bytes.NewReader([]byte("x")), Length: 1})
		require.NoError(t, err)
	}

	out, err := b.ListObjects(ctx, ListObjectsInput{Bucket: "bucket", Delimiter: "/"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/", "b/"}, out.CommonPrefixes)
	require.Len(t, out.Objects, 1)
	assert.Equal(t, "root.txt", out.Objects[0].Key)
}

func TestListObjectsPagination(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := b.Put(ctx, PutInput{Bucket: "bucket", Key: key, Body: bytes.NewReader([]byte("x")), Length: 1})
		require.NoError(t, err)
	}

	page1, err := b.ListObjects(ctx, ListObjectsInput{Bucket: "bucket", MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, page1.Objects, 2)
	assert.True(t, page1.IsTruncated)

	page2, err := b.ListObjects(ctx, ListObjectsInput{Bucket: "bucket", MaxKeys: 2, Marker: page1.NextMarker})
	require.NoError(t, err)
	require.Len(t, page2.Objects, 2)

	page3, err := b.ListObjects(ctx, ListObjectsInput{Bucket: "bucket", MaxKeys: 2, Marker: page2.NextMarker})
	require.NoError(t, err)
	assert.False(t, page3.IsTruncated)
}

func TestMultipartUploadAssemblesPartsInOrderRegardlessOfCompletionOrder(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))

	part1 := bytes.Repeat([]byte{0x41}, 5<<20)
	part2 := bytes.Repeat([]byte{0x42}, 1<<10)

	uploadID, err := b.InitiateMultipartUpload(ctx, "bucket", "big.bin")
	require.NoError(t, err)

	etag1, err := b.UploadPart(ctx, "bucket", "big.bin", uploadID, 1, bytes.NewReader(part1), int64(len(part1)))
	require.NoError(t, err)
	etag2, err := b.UploadPart(ctx, "bucket", "big.bin", uploadID, 2, bytes.NewReader(part2), int64(len(part2)))
	require.NoError(t, err)

	// Parts listed out of order; CompleteMultipartUpload must sort them.
	info, err := b.CompleteMultipartUpload(ctx, "bucket", "big.bin", uploadID, []UploadPartInfo{
		{PartNumber: 2, ETag: etag2},
		{PartNumber: 1, ETag: etag1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(part1)+len(part2)), info.Size)

	r, _, err := b.Get(ctx, "bucket", "big.bin", "")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, part1...), part2...), got)
}

func TestCompleteMultipartUploadRejectsNonContiguousParts(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))
	uploadID, err := b.InitiateMultipartUpload(ctx, "bucket", "k")
	require.NoError(t, err)
	etag, err := b.UploadPart(ctx, "bucket", "k", uploadID, 1, bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	_, err = b.CompleteMultipartUpload(ctx, "bucket", "k", uploadID, []UploadPartInfo{
		{PartNumber: 3, ETag: etag},
	})
	require.Error(t, err)
}

func TestAbortMultipartUploadRemovesParts(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))
	uploadID, err := b.InitiateMultipartUpload(ctx, "bucket", "k")
	require.NoError(t, err)
	_, err = b.UploadPart(ctx, "bucket", "k", uploadID, 1, bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	require.NoError(t, b.AbortMultipartUpload(ctx, "bucket", "k", uploadID))

	_, err = b.CompleteMultipartUpload(ctx, "bucket", "k", uploadID, []UploadPartInfo{{PartNumber: 1, ETag: "e"}})
	require.Error(t, err)
}

func TestBucketConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "bucket"))

	cfg := BucketConfig{VersioningEnabled: true, Tags: map[string]string{"env": "test"}}
	require.NoError(t, b.SetBucketConfig(ctx, "bucket", cfg))

	got, err := b.BucketConfig(ctx, "bucket")
	require.NoError(t, err)
	assert.True(t, got.VersioningEnabled)
	assert.Equal(t, "test", got.Tags["env"])
}

func TestCopyObject(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateBucket(ctx, "src"))
	require.NoError(t, b.CreateBucket(ctx, "dst"))

	body := []byte("copy me")
	_, err := b.Put(ctx, PutInput{Bucket: "src", Key: "k", Body: bytes.NewReader(body), Length: int64(len(body))})
	require.NoError(t, err)

	_, err = b.Copy(ctx, "src", "k", "", "dst", "k2")
	require.NoError(t, err)

	r, _, err := b.Get(ctx, "dst", "k2", "")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}
