package access

import (
	"strings"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// Decide answers a Request against lookup, applying the fixed
// precedence: bucket existence, then bucket policy (explicit Deny wins
// over explicit Allow, which wins over silent fallthrough), then ACL,
// then implicit deny.
func Decide(req Request, lookup Lookup) error {
	if req.Principal == "" {
		req.Principal = AnonymousPrincipal
	}

	if req.Action != ActionCreateBucket && !lookup.BucketExists(req.Bucket) {
		return apierr.New(apierr.KindResource, apierr.CodeNoSuchBucket, "bucket does not exist").WithResource(req.Bucket)
	}

	if policy, ok := lookup.PolicyFor(req.Bucket); ok {
		switch evaluatePolicy(policy, req) {
		case EffectDeny:
			return apierr.New(apierr.KindAuthentication, apierr.CodeAccessDenied, "denied by bucket policy").WithResource(resourceLabel(req))
		case EffectAllow:
			return nil
		}
		// implicit deny: fall through to ACL evaluation
	}

	return evaluateACL(req, lookup)
}

// evaluatePolicy returns EffectDeny or EffectAllow if a matching
// statement decides the request, or "" for implicit deny (no matching
// statement at all).
func evaluatePolicy(policy Policy, req Request) Effect {
	arn := resourceARN(req.Bucket, req.Key)

	sawAllow := false
	for _, stmt := range policy.Statements {
		if !actionMatches(stmt.Actions, req.Action) {
			continue
		}
		if !resourceMatches(stmt.Resources, arn) {
			continue
		}
		if stmt.Condition != nil && !stmt.Condition(req) {
			continue
		}
		if stmt.Effect == EffectDeny {
			return EffectDeny // Deny short-circuits immediately: it always wins
		}
		sawAllow = true
	}
	if sawAllow {
		return EffectAllow
	}
	return ""
}

func evaluateACL(req Request, lookup Lookup) error {
	switch req.Action {
	case ActionPutObject:
		if req.Key != "" && !lookup.ObjectExists(req.Bucket, req.Key, req.Version) {
			return evaluateBucketACL(req, lookup)
		}
	case ActionGetObject, ActionHeadObject:
		if req.Key != "" && !lookup.ObjectExists(req.Bucket, req.Key, req.Version) {
			return apierr.New(apierr.KindResource, apierr.CodeNoSuchKey, "object does not exist").WithResource(resourceLabel(req))
		}
	default:
		if req.Key != "" && !lookup.ObjectExists(req.Bucket, req.Key, req.Version) {
			return apierr.New(apierr.KindAuthentication, apierr.CodeAccessDenied, "object does not exist and action is not put/get/head").WithResource(resourceLabel(req))
		}
	}

	acl, ok := lookup.ACLFor(req.Bucket, req.Key, req.Version)
	if !ok {
		return apierr.New(apierr.KindAuthentication, apierr.CodeAccessDenied, "no ACL available").WithResource(resourceLabel(req))
	}
	return decideFromACL(req, acl)
}

func evaluateBucketACL(req Request, lookup Lookup) error {
	acl, ok := lookup.ACLFor(req.Bucket, "", "")
	if !ok {
		return apierr.New(apierr.KindAuthentication, apierr.CodeAccessDenied, "no bucket ACL available").WithResource(req.Bucket)
	}
	return decideFromACL(req, acl)
}

func decideFromACL(req Request, acl ACL) error {
	if acl.OwnerID != "" && acl.OwnerID == req.Principal {
		return nil
	}
	for _, grant := range acl.Grants {
		if !granteeMatches(grant.Grantee, req.Principal) {
			continue
		}
		if permissionCoversAction(grant.Permission, req.Action) {
			return nil
		}
	}
	return apierr.New(apierr.KindAuthentication, apierr.CodeAccessDenied, "denied: no policy allow and no ACL grant covers this action").WithResource(resourceLabel(req))
}

func granteeMatches(g Grantee, principal string) bool {
	if g.ID != "" && g.ID == principal {
		return true
	}
	switch g.Group {
	case GroupAllUsers:
		return true
	case GroupAuthenticatedUsers:
		return principal != AnonymousPrincipal
	}
	return false
}

// permissionActions maps each ACL permission to the action prefixes it
// covers, replacing what would otherwise be a cascading switch.
var permissionActions = map[Permission][]string{
	PermissionRead:  {"s3:GetObject", "s3:ListBucket", "s3:HeadObject"},
	PermissionWrite: {"s3:PutObject", "s3:DeleteObject"},
}

// isACLAction reports whether action is a Get*Acl/Put*Acl action
// (GetBucketAcl, GetObjectAcl, PutBucketAcl, PutObjectAcl), and which
// verb it carries.
func isACLAction(action Action) (verb string, ok bool) {
	a := strings.TrimPrefix(string(action), "s3:")
	if !strings.HasSuffix(a, "Acl") {
		return "", false
	}
	switch {
	case strings.HasPrefix(a, "Get"):
		return "Get", true
	case strings.HasPrefix(a, "Put"):
		return "Put", true
	}
	return "", false
}

func permissionCoversAction(perm Permission, action Action) bool {
	if perm == PermissionFullControl {
		return true
	}
	if verb, ok := isACLAction(action); ok {
		switch perm {
		case PermissionReadACP:
			return verb == "Get"
		case PermissionWriteACP:
			return verb == "Put"
		}
		return false
	}
	prefixes, ok := permissionActions[perm]
	if !ok {
		return false
	}
	a := string(action)
	for _, p := range prefixes {
		if strings.HasPrefix(a, p) {
			return true
		}
	}
	return false
}

func actionMatches(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == "s3:*" || a == action {
			return true
		}
		if strings.HasSuffix(string(a), "*") && strings.HasPrefix(string(action), strings.TrimSuffix(string(a), "*")) {
			return true
		}
	}
	return false
}

func resourceMatches(patterns []string, arn string) bool {
	for _, p := range patterns {
		if p == arn {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(arn, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func resourceARN(bucket, key string) string {
	arn := "arn:aws:s3:::" + bucket
	if key != "" {
		arn += "/" + key
	}
	return arn
}

func resourceLabel(req Request) string {
	if req.Key == "" {
		return req.Bucket
	}
	return req.Bucket + "/" + req.Key
}
