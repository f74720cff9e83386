package auth

import "strings"

// permissionRef is a permission key parsed into its namespace and action.
type permissionRef struct {
	namespace string
	action    string
}

// parsePermissionKey splits "modules.<name>" / "presales.<action>" on the
// first dot. Malformed keys evaluate to false rather than erroring.
func parsePermissionKey(raw string) (permissionRef, bool) {
	raw = strings.TrimSpace(raw)
	i := strings.Index(raw, ".")
	if i <= 0 || i == len(raw)-1 {
		return permissionRef{}, false
	}
	return permissionRef{namespace: raw[:i], action: raw[i+1:]}, true
}

type namespaceEvaluator func(PermissionGrant, string) bool

// Unknown namespaces have no evaluator and therefore fail closed.
var namespaceEvaluators = map[string]namespaceEvaluator{
	"modules":  evalModules,
	"presales": evalPresales,
}

func evalModules(g PermissionGrant, action string) bool {
	return g.Modules[ModuleName(action)]
}

func evalPresales(g PermissionGrant, action string) bool {
	switch action {
	case "canCreate":
		return g.Presales.CanCreate
	case "canViewOwn":
		return g.Presales.CanViewOwn
	case "canViewAll":
		return g.Presales.CanViewAll
	}
	return false
}

// HasPermission evaluates a permission key against the principal's grant.
// Absent flags, unknown actions and unknown namespaces all evaluate false.
func HasPermission(p Principal, key string) bool {
	ref, ok := parsePermissionKey(key)
	if !ok {
		return false
	}
	eval, ok := namespaceEvaluators[ref.namespace]
	if !ok {
		return false
	}
	return eval(p.Permissions, ref.action)
}

// CanAccessModule reports whether the module should be reachable for the
// principal. Presales is special: the module is accessible when the user can
// do anything in it (create or view own), not only with full visibility.
func CanAccessModule(p Principal, name string) bool {
	if name == "presales" {
		return p.Permissions.Presales.CanCreate || p.Permissions.Presales.CanViewOwn
	}
	return p.Permissions.Modules[ModuleName(name)]
}

// CanViewPresale applies the resource-level ownership rule for one presale
// record.
func CanViewPresale(p Principal, ownerID string) bool {
	if p.Permissions.Presales.CanViewAll {
		return true
	}
	return p.Permissions.Presales.CanViewOwn && ownerID != "" && ownerID == p.AccountID
}
