// Package policy evaluates whether a principal may perform an action inside
// an organization. Permissions form a closed noun:verb vocabulary; roles are
// named permission sets, either built in or defined per organization.
package policy

import "fmt"

// Permission is one noun:verb capability, e.g. "project:read".
type Permission string

// Nouns of the permission vocabulary.
const (
	NounOrganization = "organization"
	NounProject      = "project"
	NounCluster      = "cluster"
	NounDeployment   = "deployment"
	NounMember       = "member"
	NounInvitation   = "invitation"
	NounAPIKey       = "api-key"
	NounCredential   = "credential"
)

// Verbs of the permission vocabulary.
const (
	VerbRead   = "read"
	VerbWrite  = "write"
	VerbDelete = "delete"
	VerbAdmin  = "admin"
)

// PermOwner is the pseudo-permission implying every permission within the
// organization.
const PermOwner Permission = "owner"

// Perm builds a permission from a noun and verb.
func Perm(noun, verb string) Permission {
	return Permission(noun + ":" + verb)
}

var nouns = []string{
	NounOrganization, NounProject, NounCluster, NounDeployment,
	NounMember, NounInvitation, NounAPIKey, NounCredential,
}

var verbs = []string{VerbRead, VerbWrite, VerbDelete, VerbAdmin}

// AllPermissions returns the full closed vocabulary, excluding owner.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(nouns)*len(verbs))
	for _, n := range nouns {
		for _, v := range verbs {
			out = append(out, Perm(n, v))
		}
	}
	return out
}

var validPermissions = func() map[Permission]bool {
	m := make(map[Permission]bool)
	for _, p := range AllPermissions() {
		m[p] = true
	}
	m[PermOwner] = true
	return m
}()

// Valid reports whether p belongs to the closed vocabulary.
func Valid(p Permission) bool {
	return validPermissions[p]
}

// ValidateSet checks every permission in the set against the vocabulary.
func ValidateSet(set []Permission) error {
	for _, p := range set {
		if !Valid(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}

// Well-known role names. Custom roles are named permission sets scoped to
// one organization.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
)

// builtinRoles maps well-known role names to their permission sets.
var builtinRoles = map[string][]Permission{
	RoleOwner: {PermOwner},
	RoleAdmin: func() []Permission {
		var out []Permission
		for _, n := range nouns {
			for _, v := range verbs {
				out = append(out, Perm(n, v))
			}
		}
		return out
	}(),
	RoleDeveloper: {
		Perm(NounOrganization, VerbRead),
		Perm(NounProject, VerbRead), Perm(NounProject, VerbWrite),
		Perm(NounCluster, VerbRead),
		Perm(NounDeployment, VerbRead), Perm(NounDeployment, VerbWrite),
		Perm(NounCredential, VerbRead),
		Perm(NounMember, VerbRead),
		Perm(NounInvitation, VerbRead),
	},
	RoleViewer: {
		Perm(NounOrganization, VerbRead),
		Perm(NounProject, VerbRead),
		Perm(NounCluster, VerbRead),
		Perm(NounDeployment, VerbRead),
		Perm(NounMember, VerbRead),
	},
}

// BuiltinRole returns the permission set of a well-known role.
func BuiltinRole(name string) ([]Permission, bool) {
	set, ok := builtinRoles[name]
	return set, ok
}
