package backup

import (
	"fmt"
	"strings"

	"nineanimator/internal/media"
	"nineanimator/internal/store"
)

// Policy decides how imported state combines with local state.
type Policy int

const (
	// Replace discards local state in favour of the imported state.
	Replace Policy = iota
	// MergeLocalFirst keeps local entries first and local values on conflict.
	MergeLocalFirst
	// MergeImportedFirst puts imported entries first and lets imported
	// values win conflicts.
	MergeImportedFirst
)

var policyNames = map[Policy]string{
	Replace:            "replace",
	MergeLocalFirst:    "merge-local",
	MergeImportedFirst: "merge-imported",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by String, case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if s == name {
			return p, nil
		}
	}
	return 0, media.NewError(media.ErrArgument,
		fmt.Sprintf("unknown import policy %q (want replace, merge-local or merge-imported)", s))
}

// Summary counts what an import added that was not present locally.
type Summary struct {
	History       int
	Progresses    int
	Subscriptions int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d history, %d progress, %d subscription entries added",
		s.History, s.Progresses, s.Subscriptions)
}

// Apply merges cfg into st according to policy.
func Apply(st State, cfg *Config, policy Policy) (Summary, error) {
	if _, ok := policyNames[policy]; !ok {
		return Summary{}, media.NewError(media.ErrArgument, "invalid import policy "+policy.String())
	}

	localRecent, err := st.Recent()
	if err != nil {
		return Summary{}, err
	}
	localProgress, err := st.AllProgress()
	if err != nil {
		return Summary{}, err
	}
	localSubs, err := st.Subscriptions()
	if err != nil {
		return Summary{}, err
	}

	importedRecent := fromLinks(cfg.History)
	importedSubs := fromLinks(cfg.Subscriptions)

	var (
		recent   []media.AnimeLink
		subs     []media.AnimeLink
		progress map[string]float64
	)
	switch policy {
	case Replace:
		recent, subs = importedRecent, importedSubs
		progress = cfg.Progresses
	case MergeLocalFirst:
		recent = mergeLinks(localRecent, importedRecent)
		subs = mergeLinks(localSubs, importedSubs)
		progress = mergeProgress(localProgress, cfg.Progresses)
	case MergeImportedFirst:
		recent = mergeLinks(importedRecent, localRecent)
		subs = mergeLinks(importedSubs, localSubs)
		progress = mergeProgress(cfg.Progresses, localProgress)
	}
	if progress == nil {
		progress = map[string]float64{}
	}

	summary := Summary{
		History:       countNewLinks(localRecent, recent),
		Subscriptions: countNewLinks(localSubs, subs),
	}
	for id := range progress {
		if _, ok := localProgress[id]; !ok {
			summary.Progresses++
		}
	}

	if err := st.ReplaceLibrary(store.Library{Recent: recent, Progress: progress, Subscriptions: subs}); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// mergeLinks returns first followed by the items of second whose link is
// not in first.
func mergeLinks(first, second []media.AnimeLink) []media.AnimeLink {
	seen := make(map[string]bool, len(first))
	out := make([]media.AnimeLink, 0, len(first)+len(second))
	for _, l := range first {
		seen[l.Link] = true
		out = append(out, l)
	}
	for _, l := range second {
		if !seen[l.Link] {
			seen[l.Link] = true
			out = append(out, l)
		}
	}
	return out
}

// mergeProgress is the union of both maps; preferred wins conflicts.
func mergeProgress(preferred, other map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(preferred)+len(other))
	for id, f := range other {
		out[id] = f
	}
	for id, f := range preferred {
		out[id] = f
	}
	return out
}

func countNewLinks(local, merged []media.AnimeLink) int {
	known := make(map[string]bool, len(local))
	for _, l := range local {
		known[l.Link] = true
	}
	n := 0
	for _, l := range merged {
		if !known[l.Link] {
			n++
		}
	}
	return n
}
