package simpleindex

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SortReleases orders releases newest version first. Versions that parse as
// semantic versions are compared numerically and sort ahead of those that
// don't; the rest fall back to reverse lexical order.
func SortReleases(releases []*Release) {
	parsed := make(map[string]*semver.Version, len(releases))
	for _, r := range releases {
		if v, err := semver.NewVersion(r.Version); err == nil {
			parsed[r.Version] = v
		}
	}
	sort.SliceStable(releases, func(i, j int) bool {
		vi, iok := parsed[releases[i].Version]
		vj, jok := parsed[releases[j].Version]
		switch {
		case iok && jok:
			if vi.Equal(vj) {
				return releases[i].Version > releases[j].Version
			}
			return vi.GreaterThan(vj)
		case iok != jok:
			return iok
		default:
			return releases[i].Version > releases[j].Version
		}
	})
}
