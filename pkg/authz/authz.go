package authz

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
)

// Filter evaluates principal attributes against resource ownership and
// tags. Decisions are pure; the only side effect is debug logging.
type Filter struct {
	Log *logrus.Entry
}

func NewFilter(log *logrus.Entry) *Filter {
	return &Filter{Log: log}
}

// visible is the core rule: admin, owner, untagged (public), or a shared
// tag.
func visible(u *models.User, ownerID string, tags []string) bool {
	if u.IsAdmin() {
		return true
	}
	if u.ID == ownerID {
		return true
	}
	if len(tags) == 0 {
		return true
	}
	return len(lo.Intersect(tags, u.Tags)) > 0
}

// Visible returns the predicate list queries apply per row. Admins get a
// constant true so listers can skip tag lookups entirely.
func (f *Filter) Visible(u *models.User) store.Visibility {
	if !u.MayAct() {
		return func(string, []string) bool { return false }
	}
	if u.IsAdmin() {
		return nil
	}
	return func(ownerID string, tags []string) bool {
		return visible(u, ownerID, tags)
	}
}

// CheckAccess is the point-check used on direct lookups.
func (f *Filter) CheckAccess(u *models.User, kind models.ResourceKind, resourceID, ownerID string, tags []string) error {
	if err := f.CheckActive(u); err != nil {
		return err
	}
	if visible(u, ownerID, tags) {
		return nil
	}
	f.Log.WithFields(logrus.Fields{
		"user":     u.ID,
		"kind":     kind,
		"resource": resourceID,
	}).Debug("access denied")
	return models.Forbiddenf("no access to %s %s", kind, resourceID)
}

// CheckWrite gates mutations: ownership or admin.
func (f *Filter) CheckWrite(u *models.User, kind models.ResourceKind, resourceID, ownerID string) error {
	if err := f.CheckActive(u); err != nil {
		return err
	}
	if u.IsAdmin() || u.ID == ownerID {
		return nil
	}
	f.Log.WithFields(logrus.Fields{
		"user":     u.ID,
		"kind":     kind,
		"resource": resourceID,
	}).Debug("write denied")
	return models.Forbiddenf("%s %s is not yours to change", kind, resourceID)
}

// CheckActive enforces the approved+active gate every call shares.
func (f *Filter) CheckActive(u *models.User) error {
	if !u.MayAct() {
		return models.Forbiddenf("account is not approved and active")
	}
	return nil
}

// RequireAdmin gates administrative operations.
func (f *Filter) RequireAdmin(u *models.User) error {
	if err := f.CheckActive(u); err != nil {
		return err
	}
	if !u.IsAdmin() {
		return models.Forbiddenf("admin role required")
	}
	return nil
}

// CheckPrincipalUpdate validates role/tag changes on a user account:
// admin only, and admins may not drop their own admin role.
func (f *Filter) CheckPrincipalUpdate(actor, target *models.User, newRoles []string) error {
	if err := f.RequireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == target.ID && target.IsAdmin() && !lo.Contains(newRoles, models.RoleAdmin) {
		return models.Validationf("cannot remove your own admin role")
	}
	return nil
}
