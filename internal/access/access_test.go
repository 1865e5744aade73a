package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

type fakeLookup struct {
	buckets map[string]bool
	objects map[string]bool // "bucket/key/version"
	policy  map[string]Policy
	acls    map[string]ACL // "bucket" or "bucket/key/version"
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		buckets: map[string]bool{},
		objects: map[string]bool{},
		policy:  map[string]Policy{},
		acls:    map[string]ACL{},
	}
}

func (f *fakeLookup) BucketExists(bucket string) bool { return f.buckets[bucket] }
func (f *fakeLookup) ObjectExists(bucket, key, version string) bool {
	return f.objects[bucket+"/"+key+"/"+version]
}
func (f *fakeLookup) PolicyFor(bucket string) (Policy, bool) {
	p, ok := f.policy[bucket]
	return p, ok
}
func (f *fakeLookup) ACLFor(bucket, key, version string) (ACL, bool) {
	a, ok := f.acls[bucket+"/"+key+"/"+version]
	if ok {
		return a, true
	}
	a, ok = f.acls[bucket+"//"]
	return a, ok
}

func TestDenyBeatsACLAllowOnSameObject(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/secret.txt/"] = true
	lookup.objects["b/other.txt/"] = true
	lookup.policy["b"] = Policy{Statements: []Statement{
		{Effect: EffectDeny, Actions: []Action{ActionGetObject}, Resources: []string{"arn:aws:s3:::b/secret.txt"}},
	}}
	lookup.acls["b/secret.txt/"] = ACL{Grants: []Grant{{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionRead}}}
	lookup.acls["b/other.txt/"] = ACL{Grants: []Grant{{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionRead}}}

	err := Decide(Request{Bucket: "b", Key: "secret.txt", Action: ActionGetObject, Principal: AnonymousPrincipal}, lookup)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeAccessDenied, apiErr.Code)

	err = Decide(Request{Bucket: "b", Key: "other.txt", Action: ActionGetObject, Principal: AnonymousPrincipal}, lookup)
	assert.NoError(t, err)
}

func TestNoSuchBucketGate(t *testing.T) {
	lookup := newFakeLookup()
	err := Decide(Request{Bucket: "ghost", Action: ActionGetObject, Principal: "u"}, lookup)
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeNoSuchBucket, apiErr.Code)
}

func TestCreateBucketSkipsExistenceGate(t *testing.T) {
	lookup := newFakeLookup()
	lookup.acls["new-bucket//"] = ACL{OwnerID: "u"}
	err := Decide(Request{Bucket: "new-bucket", Action: ActionCreateBucket, Principal: "u"}, lookup)
	assert.NoError(t, err)
}

func TestGetMissingObjectReturnsNoSuchKeyNot403(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	err := Decide(Request{Bucket: "b", Key: "missing.txt", Action: ActionGetObject, Principal: "u"}, lookup)
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeNoSuchKey, apiErr.Code)
}

func TestPutMissingObjectFallsThroughToBucketACL(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.acls["b//"] = ACL{Grants: []Grant{{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionWrite}}}

	err := Decide(Request{Bucket: "b", Key: "new.txt", Action: ActionPutObject, Principal: AnonymousPrincipal}, lookup)
	assert.NoError(t, err)
}

func TestOwnerAlwaysAllowed(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/k/"] = true
	lookup.acls["b/k/"] = ACL{OwnerID: "alice"}

	err := Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObject, Principal: "alice"}, lookup)
	assert.NoError(t, err)
}

func TestImplicitDenyWhenNoGrantMatches(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/k/"] = true
	lookup.acls["b/k/"] = ACL{OwnerID: "alice", Grants: []Grant{
		{Grantee: Grantee{ID: "bob"}, Permission: PermissionRead},
	}}

	err := Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObject, Principal: "mallory"}, lookup)
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	assert.Equal(t, apierr.CodeAccessDenied, apiErr.Code)
}

func TestAuthenticatedUsersGroupExcludesAnonymous(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/k/"] = true
	lookup.acls["b/k/"] = ACL{OwnerID: "alice", Grants: []Grant{
		{Grantee: Grantee{Group: GroupAuthenticatedUsers}, Permission: PermissionRead},
	}}

	err := Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObject, Principal: AnonymousPrincipal}, lookup)
	require.Error(t, err)

	err = Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObject, Principal: "someuser"}, lookup)
	assert.NoError(t, err)
}

func TestFullControlCoversAnyAction(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/k/"] = true
	lookup.acls["b/k/"] = ACL{OwnerID: "alice", Grants: []Grant{
		{Grantee: Grantee{ID: "carol"}, Permission: PermissionFullControl},
	}}

	assert.NoError(t, Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObjectAcl, Principal: "carol"}, lookup))
	assert.NoError(t, Decide(Request{Bucket: "b", Key: "k", Action: ActionDeleteObject, Principal: "carol"}, lookup))
}

func TestExpandCannedACLs(t *testing.T) {
	acl, err := ExpandCanned(CannedPublicRead, "owner")
	require.NoError(t, err)
	assert.Equal(t, "owner", acl.OwnerID)
	require.Len(t, acl.Grants, 1)
	assert.Equal(t, GroupAllUsers, acl.Grants[0].Grantee.Group)
	assert.Equal(t, PermissionRead, acl.Grants[0].Permission)

	_, err = ExpandCanned("not-a-real-canned-acl", "owner")
	require.Error(t, err)
}

func TestBucketPolicyAllowGrantsAccessWithoutACL(t *testing.T) {
	lookup := newFakeLookup()
	lookup.buckets["b"] = true
	lookup.objects["b/k/"] = true
	lookup.policy["b"] = Policy{Statements: []Statement{
		{Effect: EffectAllow, Actions: []Action{"s3:*"}, Resources: []string{"arn:aws:s3:::b/*"}},
	}}

	err := Decide(Request{Bucket: "b", Key: "k", Action: ActionGetObject, Principal: "anyone"}, lookup)
	assert.NoError(t, err)
}
