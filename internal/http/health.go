package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/dbmaintain/dbmaintain/internal/db"
)

type HealthHandler struct {
	DBs *db.Databases
}

type healthResponse struct {
	Status    string            `json:"status"`
	Databases map[string]string `json:"databases"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Databases: map[string]string{}}
	for _, d := range h.DBs.All() {
		switch {
		case d.Disabled:
			resp.Databases[d.Name] = "disabled"
		case d.DB.PingContext(ctx) != nil:
			resp.Databases[d.Name] = "unhealthy"
			resp.Status = "unhealthy"
		default:
			resp.Databases[d.Name] = "ok"
		}
	}
	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
