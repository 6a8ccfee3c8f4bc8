package update

import (
	"fmt"
	"sort"

	"github.com/dbmaintain/dbmaintain/internal/script"
)

// Type classifies one difference between the scripts and the ledger.
type Type int

const (
	HigherIndexScriptAdded Type = iota + 1
	LowerIndexNonPatchScriptAdded
	LowerIndexPatchScriptAdded
	IndexedScriptUpdated
	IndexedScriptDeleted
	IndexedScriptRenamed
	IndexedScriptRenamedSequenceChanged
	RepeatableScriptAdded
	RepeatableScriptUpdated
	RepeatableScriptDeleted
	RepeatableScriptRenamed
	PreprocessingScriptAdded
	PreprocessingScriptUpdated
	PreprocessingScriptDeleted
	PreprocessingScriptRenamed
	PostprocessingScriptAdded
	PostprocessingScriptUpdated
	PostprocessingScriptDeleted
	PostprocessingScriptRenamed
	FailedScriptRetry
)

var typeNames = map[Type]string{
	HigherIndexScriptAdded:              "higher index script added",
	LowerIndexNonPatchScriptAdded:       "lower index non-patch script added",
	LowerIndexPatchScriptAdded:          "lower index patch script added",
	IndexedScriptUpdated:                "indexed script updated",
	IndexedScriptDeleted:                "indexed script deleted",
	IndexedScriptRenamed:                "indexed script renamed",
	IndexedScriptRenamedSequenceChanged: "indexed script renamed, execution sequence changed",
	RepeatableScriptAdded:               "repeatable script added",
	RepeatableScriptUpdated:             "repeatable script updated",
	RepeatableScriptDeleted:             "repeatable script deleted",
	RepeatableScriptRenamed:             "repeatable script renamed",
	PreprocessingScriptAdded:            "preprocessing script added",
	PreprocessingScriptUpdated:          "preprocessing script updated",
	PreprocessingScriptDeleted:          "preprocessing script deleted",
	PreprocessingScriptRenamed:          "preprocessing script renamed",
	PostprocessingScriptAdded:           "postprocessing script added",
	PostprocessingScriptUpdated:         "postprocessing script updated",
	PostprocessingScriptDeleted:         "postprocessing script deleted",
	PostprocessingScriptRenamed:         "postprocessing script renamed",
	FailedScriptRetry:                   "failed script retried",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("update type %d", int(t))
}

// IsDeletionOrRename reports whether t only touches the ledger bookkeeping
// of a script that does not have to run.
func (t Type) IsDeletionOrRename() bool {
	switch t {
	case IndexedScriptRenamed, RepeatableScriptDeleted, RepeatableScriptRenamed,
		PreprocessingScriptDeleted, PreprocessingScriptRenamed,
		PostprocessingScriptDeleted, PostprocessingScriptRenamed:
		return true
	}
	return false
}

// ScriptUpdate is one classified difference. For renames Script is the
// executed script and RenamedTo the current one.
type ScriptUpdate struct {
	Type      Type
	Script    *script.Script
	RenamedTo *script.Script
}

func (u ScriptUpdate) String() string {
	if u.RenamedTo != nil {
		return fmt.Sprintf("%s: %s -> %s", u.Type, u.Script.FileName(), u.RenamedTo.FileName())
	}
	return fmt.Sprintf("%s: %s", u.Type, u.Script.FileName())
}

func sortUpdates(updates []ScriptUpdate) {
	sort.SliceStable(updates, func(i, j int) bool {
		if c := updates[i].Script.Compare(updates[j].Script); c != 0 {
			return c < 0
		}
		return updates[i].Type < updates[j].Type
	})
}

// ScriptUpdates groups the classified updates. Every group is ordered by
// script order.
type ScriptUpdates struct {
	RegularlyAddedOrModified   []ScriptUpdate
	Irregular                  []ScriptUpdate
	RegularlyDeletedRepeatable []ScriptUpdate
	RegularlyAddedPatches      []ScriptUpdate
	RegularPreprocessing       []ScriptUpdate
	RegularPostprocessing      []ScriptUpdate
	RegularlyRenamed           []ScriptUpdate
	// Retries are failed repeatable, preprocessing or postprocessing scripts
	// whose content did not change since they failed.
	Retries []ScriptUpdate
}

func (u *ScriptUpdates) groups() [][]ScriptUpdate {
	return [][]ScriptUpdate{
		u.RegularlyAddedOrModified, u.Irregular, u.RegularlyDeletedRepeatable, u.RegularlyAddedPatches,
		u.RegularPreprocessing, u.RegularPostprocessing, u.RegularlyRenamed, u.Retries,
	}
}

func (u *ScriptUpdates) HasIrregularUpdates() bool { return len(u.Irregular) > 0 }

func (u *ScriptUpdates) IsEmpty() bool {
	for _, g := range u.groups() {
		if len(g) > 0 {
			return false
		}
	}
	return true
}

// NoUpdatesOtherThanDeletionsOrRenames reports whether no script has to be
// executed: the updates, if any, only need ledger bookkeeping.
func (u *ScriptUpdates) NoUpdatesOtherThanDeletionsOrRenames() bool {
	for _, g := range u.groups() {
		for _, su := range g {
			if !su.Type.IsDeletionOrRename() {
				return false
			}
		}
	}
	return true
}

// All returns every update in script order.
func (u *ScriptUpdates) All() []ScriptUpdate {
	var out []ScriptUpdate
	for _, g := range u.groups() {
		out = append(out, g...)
	}
	sortUpdates(out)
	return out
}

func (u *ScriptUpdates) sort() {
	for _, g := range []*[]ScriptUpdate{
		&u.RegularlyAddedOrModified, &u.Irregular, &u.RegularlyDeletedRepeatable, &u.RegularlyAddedPatches,
		&u.RegularPreprocessing, &u.RegularPostprocessing, &u.RegularlyRenamed, &u.Retries,
	} {
		sortUpdates(*g)
	}
}
