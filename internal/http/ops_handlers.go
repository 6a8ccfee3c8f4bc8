package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dbmaintain/dbmaintain/internal/audit"
	"github.com/dbmaintain/dbmaintain/internal/auth"
	"github.com/dbmaintain/dbmaintain/internal/maintainer"
)

type OpsHandler struct {
	engine Engine
	logger requestLogger
}

type executedDTO struct {
	FileName   string     `json:"file_name"`
	Checksum   string     `json:"checksum"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	Succeeded  bool       `json:"succeeded"`
}

type statusDTO struct {
	Phase    maintainer.Phase `json:"phase"`
	Busy     bool             `json:"busy"`
	Executed []executedDTO    `json:"executed,omitempty"`
}

type updateDTO struct {
	Type      string `json:"type"`
	Script    string `json:"script"`
	RenamedTo string `json:"renamed_to,omitempty"`
}

type resultDTO struct {
	*maintainer.Result
	DurationMS int64       `json:"duration_ms"`
	Updates    []updateDTO `json:"updates"`
}

func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if errors.Is(err, maintainer.ErrBusy) {
		writeJSON(w, http.StatusOK, statusDTO{Phase: st.Phase, Busy: true})
		return
	}
	if err != nil {
		h.logger.Error("read status", "error", err)
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	resp := statusDTO{Phase: st.Phase, Executed: []executedDTO{}}
	for _, es := range st.Executed {
		dto := executedDTO{FileName: es.Script.FileName(), Checksum: es.Script.Checksum(), Succeeded: es.Succeeded}
		if !es.ExecutedAt.IsZero() {
			at := es.ExecutedAt
			dto.ExecutedAt = &at
		}
		resp.Executed = append(resp.Executed, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OpsHandler) Updates(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CheckScriptUpdates(r.Context())
	h.writeResult(w, res, err)
}

func (h *OpsHandler) Update(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	res, err := h.engine.UpdateDatabase(r.Context(), dryRun)
	h.audit(r, "update", err, map[string]any{"dry_run": dryRun})
	h.writeResult(w, res, err)
}

func (h *OpsHandler) MarkErrorPerformed(w http.ResponseWriter, r *http.Request) {
	err := h.engine.MarkErrorScriptPerformed(r.Context())
	h.audit(r, "mark_error_performed", err, nil)
	h.writeOutcome(w, err)
}

func (h *OpsHandler) MarkErrorReverted(w http.ResponseWriter, r *http.Request) {
	err := h.engine.MarkErrorScriptReverted(r.Context())
	h.audit(r, "mark_error_reverted", err, nil)
	h.writeOutcome(w, err)
}

func (h *OpsHandler) audit(r *http.Request, action string, err error, payload map[string]any) {
	actor := ""
	if tok, ok := auth.TokenFromContext(r.Context()); ok {
		actor = tok.Subject
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	_ = audit.LogEvent(h.logger, audit.Event{Actor: actor, Action: action, Outcome: outcome, Payload: payload})
}

func (h *OpsHandler) writeResult(w http.ResponseWriter, res *maintainer.Result, err error) {
	if res == nil {
		writeEnvelope(w, nil, err)
		return
	}
	dto := &resultDTO{Result: res, DurationMS: res.Duration.Milliseconds(), Updates: []updateDTO{}}
	if res.Updates != nil {
		for _, u := range res.Updates.All() {
			ud := updateDTO{Type: u.Type.String(), Script: u.Script.FileName()}
			if u.RenamedTo != nil {
				ud.RenamedTo = u.RenamedTo.FileName()
			}
			dto.Updates = append(dto.Updates, ud)
		}
	}
	writeEnvelope(w, dto, err)
}

func (h *OpsHandler) writeOutcome(w http.ResponseWriter, err error) {
	if err != nil {
		writeEnvelope(w, nil, err)
		return
	}
	writeEnvelope(w, map[string]string{"status": "ok"}, nil)
}
