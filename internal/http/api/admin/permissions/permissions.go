package permissions

import (
	"fmt"
	"sort"
	"strings"
)

// Definition describes an admin permission.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
}

// Key builds a permission key from method and path.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// NormalizePermissions trims, de-duplicates, and sorts permissions.
func NormalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, perm := range perms {
		trimmed := strings.TrimSpace(perm)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	return normalized
}

// ValidatePermissions validates that all permissions exist in the definition set.
func ValidatePermissions(perms []string) error {
	if len(perms) == 0 {
		return nil
	}
	allowed := definitionMap
	for _, perm := range perms {
		trimmed := strings.TrimSpace(perm)
		if trimmed == "" {
			continue
		}
		if _, ok := allowed[trimmed]; !ok {
			return fmt.Errorf("invalid permission: %s", trimmed)
		}
	}
	return nil
}

// HasPermission checks whether the key exists in the permission list.
func HasPermission(perms []string, key string) bool {
	if key == "" {
		return false
	}
	for _, perm := range perms {
		if perm == key {
			return true
		}
	}
	return false
}

// Definitions returns a copy of all permission definitions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// newDefinition builds a Definition with a normalized key.
func newDefinition(method, path, label, module string) Definition {
	upperMethod := strings.ToUpper(method)
	return Definition{
		Key:    Key(upperMethod, path),
		Method: upperMethod,
		Path:   path,
		Label:  label,
		Module: module,
	}
}

// definitions is the ordered list of permission definitions.
var definitions = []Definition{
	newDefinition("GET", "/v0/admin/projects/:projectID/support", "View Project Support", "Plans"),
	newDefinition("GET", "/v0/admin/plans/:id", "View Plan", "Plans"),
	newDefinition("GET", "/v0/admin/plans/:id/ledger", "View Plan Ledger", "Plans"),
	newDefinition("POST", "/v0/admin/plans/:id/pause", "Pause Plan", "Plans"),
	newDefinition("POST", "/v0/admin/plans/:id/resume", "Resume Plan", "Plans"),
	newDefinition("POST", "/v0/admin/plans/:id/cancel", "Cancel Plan", "Plans"),
	newDefinition("PUT", "/v0/admin/plans/:id/rollover-enabled", "Toggle Rollover", "Plans"),

	newDefinition("POST", "/v0/admin/plans/:id/consume", "Log Support Hours", "Hours"),
	newDefinition("POST", "/v0/admin/plans/:id/credits", "Credit Hours", "Hours"),
	newDefinition("POST", "/v0/admin/plans/:id/packs", "Add Hour Pack", "Hours"),

	newDefinition("POST", "/v0/admin/plans/:id/rollover", "Roll Over Plan", "Rollover"),
	newDefinition("POST", "/v0/admin/rollover/run", "Run Rollover Sweep", "Rollover"),

	newDefinition("POST", "/v0/admin/checkouts", "Start Checkout", "Provisioning"),
	newDefinition("POST", "/v0/admin/activations", "Confirm Payment", "Provisioning"),

	newDefinition("GET", "/v0/admin/plans/:id/change-requests", "List Change Requests", "Change Requests"),
	newDefinition("POST", "/v0/admin/change-requests/:id/approve", "Approve Change Request", "Change Requests"),
	newDefinition("POST", "/v0/admin/change-requests/:id/reject", "Reject Change Request", "Change Requests"),
	newDefinition("POST", "/v0/admin/change-requests/:id/complete", "Complete Change Request", "Change Requests"),

	newDefinition("GET", "/v0/admin/permissions", "List Permissions", "Admins"),
}

// definitionMap provides fast lookup for permission definitions.
var definitionMap = func() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}()
