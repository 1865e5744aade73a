package kms

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kms.json")
	svc, err := Open(path, nil)
	require.NoError(t, err)
	return svc
}

func TestCreateDescribeListKey(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{Description: "test key"})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.KeyID)
	assert.Equal(t, KeyStateEnabled, meta.KeyState)
	assert.True(t, meta.Enabled)

	got, err := svc.DescribeKey(meta.KeyID)
	require.NoError(t, err)
	assert.Equal(t, meta.KeyID, got.KeyID)

	_, err = svc.DescribeKey("nonexistent")
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeNotFound, apiErr.Code)

	list := svc.ListKeys()
	require.Len(t, list, 1)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)

	out, err := svc.Encrypt(meta.KeyID, []byte("top secret"), map[string]string{"purpose": "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.CiphertextBlob)

	dec, err := svc.Decrypt(out.CiphertextBlob, map[string]string{"purpose": "test"}, meta.KeyID)
	require.NoError(t, err)
	assert.Equal(t, []byte("top secret"), dec.Plaintext)
}

func TestDecryptRejectsWrongEncryptionContext(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)

	out, err := svc.Encrypt(meta.KeyID, []byte("data"), map[string]string{"a": "1"})
	require.NoError(t, err)

	_, err = svc.Decrypt(out.CiphertextBlob, map[string]string{"a": "2"}, meta.KeyID)
	require.Error(t, err)
}

func TestDecryptWithoutKeyIDRejectedByDefault(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)
	out, err := svc.Encrypt(meta.KeyID, []byte("data"), nil)
	require.NoError(t, err)

	_, err = svc.Decrypt(out.CiphertextBlob, nil, "")
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeInvalidKeyID, apiErr.Code)
}

func TestDecryptWithoutKeyIDDiscoversWhenOptedIn(t *testing.T) {
	svc := newTestService(t)
	svc.AllowKeyDiscovery = true
	_, err := svc.CreateKey(CreateKeyInput{Description: "decoy"})
	require.NoError(t, err)
	meta, err := svc.CreateKey(CreateKeyInput{Description: "real"})
	require.NoError(t, err)

	out, err := svc.Encrypt(meta.KeyID, []byte("data"), nil)
	require.NoError(t, err)

	dec, err := svc.Decrypt(out.CiphertextBlob, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), dec.Plaintext)
	assert.Equal(t, meta.KeyID, dec.KeyID)
}

func TestEncryptRejectsDisabledKey(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)
	require.NoError(t, svc.DisableKey(meta.KeyID))

	_, err = svc.Encrypt(meta.KeyID, []byte("data"), nil)
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeKeyUnavailable, apiErr.Code)
}

func TestScheduleKeyDeletionValidatesWindow(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)

	_, err = svc.ScheduleKeyDeletion(meta.KeyID, 3)
	require.Error(t, err)

	deletionDate, err := svc.ScheduleKeyDeletion(meta.KeyID, 7)
	require.NoError(t, err)
	assert.True(t, deletionDate.After(time.Now()))

	got, err := svc.DescribeKey(meta.KeyID)
	require.NoError(t, err)
	assert.Equal(t, KeyStatePendingDeletion, got.KeyState)
	assert.False(t, got.Enabled)
}

func TestCancelKeyDeletionRestoresDisabledState(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)
	_, err = svc.ScheduleKeyDeletion(meta.KeyID, 7)
	require.NoError(t, err)

	require.NoError(t, svc.CancelKeyDeletion(meta.KeyID))
	got, err := svc.DescribeKey(meta.KeyID)
	require.NoError(t, err)
	assert.Equal(t, KeyStateDisabled, got.KeyState)
}

func TestSchedulerSweepsExpiredKeys(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.CreateKey(CreateKeyInput{})
	require.NoError(t, err)

	svc.mu.Lock()
	svc.records[meta.KeyID].Metadata.KeyState = KeyStatePendingDeletion
	svc.records[meta.KeyID].Metadata.DeletionDate = time.Now().UTC().Add(-time.Hour)
	svc.mu.Unlock()

	sched := NewScheduler(svc, time.Hour, nil)
	sched.sweepOnce()

	_, err = svc.DescribeKey(meta.KeyID)
	require.Error(t, err)
}

func TestAPICredentialVerify(t *testing.T) {
	cred, err := NewAPICredential("admin", "s3cr3t")
	require.NoError(t, err)
	assert.True(t, cred.Verify("s3cr3t"))
	assert.False(t, cred.Verify("wrong"))
}

func TestPersistenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kms.json")
	svc1, err := Open(path, nil)
	require.NoError(t, err)
	meta, err := svc1.CreateKey(CreateKeyInput{Description: "durable"})
	require.NoError(t, err)

	svc2, err := Open(path, nil)
	require.NoError(t, err)
	got, err := svc2.DescribeKey(meta.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Description)
}
