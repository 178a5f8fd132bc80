package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
	"github.com/cyroid/cyroid/pkg/utils"
)

func active(id string, roles, tags []string) *models.User {
	return &models.User{ID: id, Username: id, Roles: roles, Tags: tags, Approved: true, Active: true}
}

func TestVisibilityScenario(t *testing.T) {
	// Admin A; non-admin B with tags {ops}. R1 owned by B untagged,
	// R2 owned by C tagged {ops}, R3 owned by C tagged {secret}.
	ctx := context.Background()
	repo := store.NewMemory()
	filter := NewFilter(utils.NewDummyLog())

	a := active("a", []string{"admin"}, nil)
	b := active("b", nil, []string{"ops"})

	r1 := &models.Range{Name: "R1", OwnerID: "b"}
	r2 := &models.Range{Name: "R2", OwnerID: "c"}
	r3 := &models.Range{Name: "R3", OwnerID: "c"}
	for _, r := range []*models.Range{r1, r2, r3} {
		assert.NoError(t, repo.CreateRange(ctx, r))
	}
	assert.NoError(t, repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: r2.ID, Tag: "ops"}))
	assert.NoError(t, repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: r3.ID, Tag: "secret"}))

	names := func(rs []*models.Range) []string {
		out := []string{}
		for _, r := range rs {
			out = append(out, r.Name)
		}
		return out
	}

	bList, err := repo.ListRanges(ctx, filter.Visible(b))
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"R1", "R2"}, names(bList))

	aList, err := repo.ListRanges(ctx, filter.Visible(a))
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"R1", "R2", "R3"}, names(aList))
}

func TestPointCheckMatchesPredicate(t *testing.T) {
	filter := NewFilter(utils.NewDummyLog())

	scenarios := []struct {
		name  string
		user  *models.User
		owner string
		tags  []string
		want  bool
	}{
		{"admin sees tagged", active("a", []string{"admin"}, nil), "c", []string{"secret"}, true},
		{"owner sees own", active("b", nil, nil), "b", []string{"secret"}, true},
		{"untagged is public", active("b", nil, nil), "c", nil, true},
		{"shared tag", active("b", nil, []string{"ops"}), "c", []string{"ops"}, true},
		{"disjoint tags", active("b", nil, []string{"ops"}), "c", []string{"secret"}, false},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			err := filter.CheckAccess(s.user, models.KindRange, "r", s.owner, s.tags)
			pred := filter.Visible(s.user)
			predicateSays := pred == nil || pred(s.owner, s.tags)
			if s.want {
				assert.NoError(t, err)
				assert.True(t, predicateSays)
			} else {
				assert.ErrorIs(t, err, models.ErrForbidden)
				assert.False(t, predicateSays)
			}
		})
	}
}

func TestVisibilityMonotonicity(t *testing.T) {
	// Tagging a resource never widens the audience of non-owners.
	filter := NewFilter(utils.NewDummyLog())
	outsider := active("b", nil, []string{"ops"})

	assert.NoError(t, filter.CheckAccess(outsider, models.KindRange, "r", "c", nil))
	assert.Error(t, filter.CheckAccess(outsider, models.KindRange, "r", "c", []string{"secret"}))
	assert.NoError(t, filter.CheckAccess(outsider, models.KindRange, "r", "c", []string{"secret", "ops"}))
}

func TestInactiveAndUnapproved(t *testing.T) {
	filter := NewFilter(utils.NewDummyLog())

	inactive := &models.User{ID: "x", Approved: true, Active: false}
	unapproved := &models.User{ID: "y", Approved: false, Active: true}

	assert.ErrorIs(t, filter.CheckAccess(inactive, models.KindRange, "r", "x", nil), models.ErrForbidden)
	assert.ErrorIs(t, filter.CheckWrite(unapproved, models.KindRange, "r", "y"), models.ErrForbidden)

	pred := filter.Visible(inactive)
	assert.NotNil(t, pred)
	assert.False(t, pred("x", nil), "inactive principals see nothing")
}

func TestWriteRequiresOwnershipOrAdmin(t *testing.T) {
	filter := NewFilter(utils.NewDummyLog())

	assert.NoError(t, filter.CheckWrite(active("b", nil, nil), models.KindTemplate, "t", "b"))
	assert.NoError(t, filter.CheckWrite(active("a", []string{"admin"}, nil), models.KindTemplate, "t", "b"))
	assert.ErrorIs(t,
		filter.CheckWrite(active("c", nil, []string{"ops"}), models.KindTemplate, "t", "b"),
		models.ErrForbidden)
}

func TestPrincipalUpdateRules(t *testing.T) {
	filter := NewFilter(utils.NewDummyLog())

	admin := active("a", []string{"admin"}, nil)
	other := active("b", nil, nil)

	assert.ErrorIs(t, filter.CheckPrincipalUpdate(other, other, []string{"operator"}), models.ErrForbidden)
	assert.NoError(t, filter.CheckPrincipalUpdate(admin, other, []string{"operator"}))

	// an admin may not strip their own admin role
	err := filter.CheckPrincipalUpdate(admin, admin, []string{"operator"})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.NoError(t, filter.CheckPrincipalUpdate(admin, admin, []string{"admin", "operator"}))
}
