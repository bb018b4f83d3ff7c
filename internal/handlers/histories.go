package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) listHistories(w http.ResponseWriter, r *http.Request) {
	list, err := a.histories.ListHistories(r.Context())
	if err != nil {
		a.logger.WithError(err).Error("Failed to list histories")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"histories": list})
}

func (a *API) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.histories.DeleteHistory(r.Context(), id); err != nil {
		a.logger.WithError(err).WithField("history", id).Error("Failed to delete history")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
