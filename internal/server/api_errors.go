package server

import (
	"net/http"

	"github.com/harpervoss/caseplan/internal/routing"
	"github.com/harpervoss/caseplan/pkg/httperr"
)

// writeAPIError maps store/service failures onto the JSON error envelope.
// Stable UPPER_SNAKE codes raised from the database surface as 422 unless a
// typed error class picks a more specific status.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error, defaultCode string) {
	code := stablePgMessage(err)
	status := http.StatusInternalServerError
	if isStableDBCode(code) {
		status = http.StatusUnprocessableEntity
	}
	switch {
	case httperr.IsBadRequest(err) || isPgInvalidInput(err):
		status = http.StatusBadRequest
	case httperr.IsForbidden(err):
		status = http.StatusForbidden
	case httperr.IsNotFound(err):
		status = http.StatusNotFound
	case httperr.IsConflict(err):
		status = http.StatusConflict
	}
	if code == "" || code == "UNKNOWN" {
		code = defaultCode
	}
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, err.Error())
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writePrincipalMissing(w http.ResponseWriter, r *http.Request) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "principal_missing", "principal missing")
}
