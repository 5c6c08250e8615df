package domain

import "strings"

// Change is one kind of state that must be pushed to a provider. Values are
// ordered by application priority within a category.
type Change uint8

const (
	ChangeModFiles Change = iota
	ChangeModManip
	ChangeScale
	ChangeOffset
	ChangeTitle
	ChangeAppearance
	ChangeOverlay
	ChangePetNames
	ChangeForcedRedraw
	changeCount
)

var changeNames = [...]string{
	ChangeModFiles:     "mod_files",
	ChangeModManip:     "mod_manipulation",
	ChangeScale:        "scale",
	ChangeOffset:       "offset",
	ChangeTitle:        "title",
	ChangeAppearance:   "appearance",
	ChangeOverlay:      "overlay",
	ChangePetNames:     "pet_names",
	ChangeForcedRedraw: "forced_redraw",
}

func (c Change) String() string {
	if c < changeCount {
		return changeNames[c]
	}
	return "unknown"
}

// Changes is a set of Change values.
type Changes uint16

func (s Changes) Has(c Change) bool { return s&(1<<c) != 0 }
func (s Changes) With(c Change) Changes { return s | 1<<c }
func (s *Changes) Add(c Change) { *s |= 1 << c }
func (s Changes) Without(c Change) Changes { return s &^ (1 << c) }
func (s Changes) Empty() bool { return s == 0 }

// Sorted returns the members in ascending priority order.
func (s Changes) Sorted() []Change {
	var out []Change
	for c := Change(0); c < changeCount; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s Changes) String() string {
	parts := make([]string, 0, changeCount)
	for _, c := range s.Sorted() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// ChangeSet maps each affected category to the changes it needs.
type ChangeSet map[ObjectKind]Changes

func (cs ChangeSet) Empty() bool {
	for _, c := range cs {
		if !c.Empty() {
			return false
		}
	}
	return true
}

// Any reports whether some category needs change c.
func (cs ChangeSet) Any(c Change) bool {
	for _, set := range cs {
		if set.Has(c) {
			return true
		}
	}
	return false
}

// Kinds lists affected categories in application order.
func (cs ChangeSet) Kinds() []ObjectKind {
	var out []ObjectKind
	for _, k := range AllKinds {
		if set, ok := cs[k]; ok && !set.Empty() {
			out = append(out, k)
		}
	}
	return out
}

// Force widens a diff beyond strict inequality.
type Force struct {
	Scalars bool // re-push every non-empty scalar
	Mods    bool // re-push files and manipulation
}

// Diff computes what must change to move a peer's entity from prev (nil when
// nothing was applied yet) to next. A category present only in prev yields
// the changes needed to revert it.
func Diff(next Snapshot, prev *Snapshot, force Force) ChangeSet {
	out := ChangeSet{}
	var old Snapshot
	if prev != nil {
		old = *prev
	}

	for _, kind := range AllKinds {
		nf, inNew := next.Fragments[kind]
		of, inOld := old.Fragments[kind]
		if !inNew && !inOld {
			continue
		}

		var set Changes
		if !sameFiles(nf, of) || (force.Mods && nf.HasMods()) {
			set.Add(ChangeModFiles)
		}
		if nf.Scale != of.Scale || (force.Scalars && nf.Scale != "") {
			set.Add(ChangeScale)
		}
		if nf.Appearance != of.Appearance || (force.Scalars && nf.Appearance != "") {
			set.Add(ChangeAppearance)
		}

		if kind == KindPlayer {
			np, op := next.Player, old.Player
			if !inNew {
				np = PlayerData{}
			}
			if !inOld {
				op = PlayerData{}
			}
			if np.Manipulation != op.Manipulation || (force.Mods && np.Manipulation != "") {
				set.Add(ChangeModManip)
			}
			if np.Offset != op.Offset || (force.Scalars && np.Offset != "") {
				set.Add(ChangeOffset)
			}
			if np.Title != op.Title || (force.Scalars && np.Title != "") {
				set.Add(ChangeTitle)
			}
			if np.Overlay != op.Overlay || (force.Scalars && np.Overlay != "") {
				set.Add(ChangeOverlay)
			}
			if np.PetNames != op.PetNames || (force.Scalars && np.PetNames != "") {
				set.Add(ChangePetNames)
			}
		} else if set.Has(ChangeModFiles) {
			set.Add(ChangeForcedRedraw)
		}

		if !set.Empty() {
			out[kind] = set
		}
	}
	return out
}

func sameFiles(a, b Fragment) bool {
	if len(a.Files) != len(b.Files) || len(a.Redirects) != len(b.Redirects) {
		return false
	}
	type fileKey struct {
		path string
		hash ContentHash
		ext  string
	}
	files := make(map[fileKey]int, len(a.Files))
	for _, f := range a.Files {
		files[fileKey{f.GamePath, f.Hash, f.Extension}]++
	}
	for _, f := range b.Files {
		k := fileKey{f.GamePath, f.Hash, f.Extension}
		if files[k] == 0 {
			return false
		}
		files[k]--
	}
	redirects := make(map[FileRedirect]int, len(a.Redirects))
	for _, r := range a.Redirects {
		redirects[r]++
	}
	for _, r := range b.Redirects {
		if redirects[r] == 0 {
			return false
		}
		redirects[r]--
	}
	return true
}
