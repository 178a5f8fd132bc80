package store

import (
	"sort"

	"github.com/cyroid/cyroid/pkg/models"
)

// Both backends sort scan results the same way so listings are stable
// regardless of map or bucket iteration order.

func sortRanges(rs []*models.Range) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].Name < rs[j].Name
	})
}

func sortNetworks(ns []*models.Network) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Name < ns[j].Name })
}

func sortVMs(vms []*models.VM) {
	sort.Slice(vms, func(i, j int) bool { return vms[i].Hostname < vms[j].Hostname })
}

func sortTemplates(ts []*models.Template) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
}

func sortSnapshots(ss []*models.Snapshot) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].CreatedAt.Before(ss[j].CreatedAt) })
}

func sortInjects(injects []*models.Inject) {
	sort.Slice(injects, func(i, j int) bool { return injects[i].Sequence < injects[j].Sequence })
}

func sortConnections(cs []*models.Connection) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].StartAt.Before(cs[j].StartAt) })
}

func sortArtifacts(as []*models.Artifact) {
	sort.Slice(as, func(i, j int) bool { return as[i].Name < as[j].Name })
}

func sortPlacements(ps []*models.Placement) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) })
}

func sortUsers(us []*models.User) {
	sort.Slice(us, func(i, j int) bool { return us[i].Username < us[j].Username })
}

func sortStrings(ss []string) { sort.Strings(ss) }
