// Package update compares the scripts with the ledger and classifies every
// difference as regular, irregular or patch.
package update

import (
	"github.com/dbmaintain/dbmaintain/internal/repository"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

// Analyzer is a pure function of the repository and the executed scripts.
type Analyzer struct {
	AllowOutOfSequencePatches bool
	UseLastModificationDates  bool
}

type rename struct {
	from *script.Script
	to   *script.Script
}

// Calculate classifies the differences between repo and executed.
func (a Analyzer) Calculate(repo *repository.Repository, executed []script.ExecutedScript) *ScriptUpdates {
	executed = relevant(repo, executed)
	script.SortExecuted(executed)

	current := repo.AllScripts()
	executedNames := make(map[string]bool, len(executed))
	for _, es := range executed {
		executedNames[es.Script.FileName()] = true
	}

	u := &ScriptUpdates{}
	claimed := map[string]bool{}
	var vanished []script.ExecutedScript

	for _, es := range executed {
		cur, ok := repo.Script(es.Script.FileName())
		if !ok {
			vanished = append(vanished, es)
			continue
		}
		claimed[cur.FileName()] = true
		if !cur.ContentEqual(es.Script, a.UseLastModificationDates) {
			a.modified(u, cur)
			continue
		}
		if !es.Succeeded && !cur.IsIncremental() {
			u.Retries = append(u.Retries, ScriptUpdate{Type: FailedScriptRetry, Script: cur})
		}
	}

	var renames []rename
	for _, es := range vanished {
		target := a.renameTarget(es.Script, current, executedNames, claimed)
		if target == nil {
			a.deleted(u, es.Script)
			continue
		}
		claimed[target.FileName()] = true
		switch es.Script.Kind() {
		case script.Incremental:
			renames = append(renames, rename{from: es.Script, to: target})
		case script.Repeatable:
			u.RegularlyRenamed = append(u.RegularlyRenamed, ScriptUpdate{Type: RepeatableScriptRenamed, Script: es.Script, RenamedTo: target})
		case script.Preprocessing:
			u.RegularPreprocessing = append(u.RegularPreprocessing, ScriptUpdate{Type: PreprocessingScriptRenamed, Script: es.Script, RenamedTo: target})
		case script.Postprocessing:
			u.RegularPostprocessing = append(u.RegularPostprocessing, ScriptUpdate{Type: PostprocessingScriptRenamed, Script: es.Script, RenamedTo: target})
		}
	}

	order := a.classifyRenames(u, executed, renames)

	var highest script.Version
	for _, s := range order {
		if s.Version().Compare(highest) > 0 {
			highest = s.Version()
		}
	}
	for _, s := range current {
		if claimed[s.FileName()] {
			continue
		}
		a.added(u, s, highest)
	}

	u.sort()
	return u
}

// relevant copies executed without the incremental scripts below the
// baseline revision.
func relevant(repo *repository.Repository, executed []script.ExecutedScript) []script.ExecutedScript {
	out := make([]script.ExecutedScript, 0, len(executed))
	for _, es := range executed {
		if repo.BelowBaseline(es.Script) {
			continue
		}
		out = append(out, es)
	}
	return out
}

// renameTarget returns the only current script that has the checksum of the
// vanished script and is not tied to a ledger row yet. Ambiguous matches
// return nil.
func (a Analyzer) renameTarget(vanished *script.Script, current []*script.Script, executedNames, claimed map[string]bool) *script.Script {
	var match *script.Script
	for _, s := range current {
		if executedNames[s.FileName()] || claimed[s.FileName()] {
			continue
		}
		if s.Kind() != vanished.Kind() || s.Checksum() != vanished.Checksum() {
			continue
		}
		if match != nil {
			return nil
		}
		match = s
	}
	return match
}

// classifyRenames replays the executed incremental order with every renamed
// script swapped for its new name. If the result is no longer in script order
// every incremental rename is irregular. The replayed order is returned.
func (a Analyzer) classifyRenames(u *ScriptUpdates, executed []script.ExecutedScript, renames []rename) []*script.Script {
	renamedTo := make(map[string]*script.Script, len(renames))
	for _, r := range renames {
		renamedTo[r.from.FileName()] = r.to
	}

	var order []*script.Script
	for _, es := range executed {
		if !es.Script.IsIncremental() {
			continue
		}
		s := es.Script
		if to, ok := renamedTo[s.FileName()]; ok {
			s = to
		}
		order = append(order, s)
	}
	if len(renames) == 0 {
		return order
	}

	inOrder := true
	for i := 1; i < len(order); i++ {
		if order[i-1].Compare(order[i]) > 0 {
			inOrder = false
			break
		}
	}
	for _, r := range renames {
		if inOrder {
			u.RegularlyRenamed = append(u.RegularlyRenamed, ScriptUpdate{Type: IndexedScriptRenamed, Script: r.from, RenamedTo: r.to})
		} else {
			u.Irregular = append(u.Irregular, ScriptUpdate{Type: IndexedScriptRenamedSequenceChanged, Script: r.from, RenamedTo: r.to})
		}
	}
	return order
}

func (a Analyzer) modified(u *ScriptUpdates, s *script.Script) {
	switch s.Kind() {
	case script.Incremental:
		u.Irregular = append(u.Irregular, ScriptUpdate{Type: IndexedScriptUpdated, Script: s})
	case script.Repeatable:
		u.RegularlyAddedOrModified = append(u.RegularlyAddedOrModified, ScriptUpdate{Type: RepeatableScriptUpdated, Script: s})
	case script.Preprocessing:
		u.RegularPreprocessing = append(u.RegularPreprocessing, ScriptUpdate{Type: PreprocessingScriptUpdated, Script: s})
	case script.Postprocessing:
		u.RegularPostprocessing = append(u.RegularPostprocessing, ScriptUpdate{Type: PostprocessingScriptUpdated, Script: s})
	}
}

func (a Analyzer) deleted(u *ScriptUpdates, s *script.Script) {
	switch s.Kind() {
	case script.Incremental:
		u.Irregular = append(u.Irregular, ScriptUpdate{Type: IndexedScriptDeleted, Script: s})
	case script.Repeatable:
		u.RegularlyDeletedRepeatable = append(u.RegularlyDeletedRepeatable, ScriptUpdate{Type: RepeatableScriptDeleted, Script: s})
	case script.Preprocessing:
		u.RegularPreprocessing = append(u.RegularPreprocessing, ScriptUpdate{Type: PreprocessingScriptDeleted, Script: s})
	case script.Postprocessing:
		u.RegularPostprocessing = append(u.RegularPostprocessing, ScriptUpdate{Type: PostprocessingScriptDeleted, Script: s})
	}
}

func (a Analyzer) added(u *ScriptUpdates, s *script.Script, highest script.Version) {
	switch s.Kind() {
	case script.Incremental:
		switch {
		case s.Version().Compare(highest) > 0:
			u.RegularlyAddedOrModified = append(u.RegularlyAddedOrModified, ScriptUpdate{Type: HigherIndexScriptAdded, Script: s})
		case s.IsPatch() && a.AllowOutOfSequencePatches:
			u.RegularlyAddedPatches = append(u.RegularlyAddedPatches, ScriptUpdate{Type: LowerIndexPatchScriptAdded, Script: s})
		case s.IsPatch():
			u.Irregular = append(u.Irregular, ScriptUpdate{Type: LowerIndexPatchScriptAdded, Script: s})
		default:
			u.Irregular = append(u.Irregular, ScriptUpdate{Type: LowerIndexNonPatchScriptAdded, Script: s})
		}
	case script.Repeatable:
		u.RegularlyAddedOrModified = append(u.RegularlyAddedOrModified, ScriptUpdate{Type: RepeatableScriptAdded, Script: s})
	case script.Preprocessing:
		u.RegularPreprocessing = append(u.RegularPreprocessing, ScriptUpdate{Type: PreprocessingScriptAdded, Script: s})
	case script.Postprocessing:
		u.RegularPostprocessing = append(u.RegularPostprocessing, ScriptUpdate{Type: PostprocessingScriptAdded, Script: s})
	}
}
