package access

import "github.com/cybou-fr/cybs3/internal/apierr"

// CannedACL is one of the fixed, named ACL shorthands a caller can
// request at put-time; ExpandCanned turns it into the canonical
// grant list the decision engine actually evaluates.
type CannedACL string

const (
	CannedPrivate                CannedACL = "private"
	CannedPublicRead             CannedACL = "public-read"
	CannedPublicReadWrite        CannedACL = "public-read-write"
	CannedAuthenticatedRead      CannedACL = "authenticated-read"
	CannedBucketOwnerRead        CannedACL = "bucket-owner-read"
	CannedBucketOwnerFullControl CannedACL = "bucket-owner-full-control"
)

// ExpandCanned expands a canned ACL name into a full ACL owned by
// ownerID. This runs at put-time, in the caller, not inside the
// decision engine, which only ever sees the expanded form.
func ExpandCanned(canned CannedACL, ownerID string) (ACL, error) {
	base := ACL{OwnerID: ownerID}
	switch canned {
	case CannedPrivate, "":
		return base, nil
	case CannedPublicRead:
		base.Grants = []Grant{{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionRead}}
		return base, nil
	case CannedPublicReadWrite:
		base.Grants = []Grant{
			{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionRead},
			{Grantee: Grantee{Group: GroupAllUsers}, Permission: PermissionWrite},
		}
		return base, nil
	case CannedAuthenticatedRead:
		base.Grants = []Grant{{Grantee: Grantee{Group: GroupAuthenticatedUsers}, Permission: PermissionRead}}
		return base, nil
	case CannedBucketOwnerRead:
		return base, nil // owner grant already implicit via OwnerID
	case CannedBucketOwnerFullControl:
		return base, nil
	default:
		return ACL{}, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "unrecognized canned ACL").WithResource(string(canned))
	}
}
