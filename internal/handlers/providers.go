package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	dynconfig "github.com/multi-llm-chat-go/internal/services/config"
)

type providerView struct {
	ID             ai.ProviderID          `json:"id"`
	DefaultBaseURL string                 `json:"default_base_url"`
	RequiresAPIKey bool                   `json:"requires_api_key"`
	HasAPIKey      bool                   `json:"has_api_key"`
	Setting        models.ProviderSetting `json:"setting"`
}

func (a *API) listProviders(w http.ResponseWriter, r *http.Request) {
	ids := a.providers.IDs()
	views := make([]providerView, 0, len(ids))
	for _, id := range ids {
		p, err := a.providers.Get(string(id))
		if err != nil {
			continue
		}
		setting, err := a.settings.Resolve(r.Context(), string(id))
		if err != nil {
			a.logger.WithError(err).WithField("provider", id).Warn("Failed to resolve provider settings")
		}
		views = append(views, providerView{
			ID:             id,
			DefaultBaseURL: p.DefaultBaseURL(),
			RequiresAPIKey: p.RequiresAPIKey(),
			HasAPIKey:      setting.APIKey != "",
			Setting:        setting,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": views,
		"default":   a.cfg.Defaults,
	})
}

func (a *API) listModels(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	p, err := a.providers.Get(providerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	setting, err := a.settings.Resolve(r.Context(), providerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	embeddingOnly := r.URL.Query().Get("embedding") == "true"
	list, err := a.catalog.List(r.Context(), p, setting, embeddingOnly)
	if err != nil {
		// the catalog fails closed; the client still gets an empty list
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"models": list,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": list})
}

func (a *API) updateSettings(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	p, err := a.providers.Get(providerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var update dynconfig.SettingUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	setting, err := a.settings.Update(r.Context(), providerID, update)
	if err != nil {
		if errors.Is(err, dynconfig.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.WithError(err).WithField("provider", providerID).Error("Failed to update provider settings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, providerView{
		ID:             p.ID(),
		DefaultBaseURL: p.DefaultBaseURL(),
		RequiresAPIKey: p.RequiresAPIKey(),
		HasAPIKey:      setting.APIKey != "",
		Setting:        setting,
	})
}
