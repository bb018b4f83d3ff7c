package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/multi-llm-chat-go/internal/services/knowledge"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 32 << 20

func (a *API) knowledgeEnabled(w http.ResponseWriter) bool {
	if a.knowledge == nil {
		writeError(w, http.StatusNotFound, "knowledge base is disabled")
		return false
	}
	return true
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	if !a.knowledgeEnabled(w) {
		return
	}
	docs, err := a.knowledge.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents":  docs,
		"extensions": a.knowledge.Reader().Extensions(),
	})
}

// uploadDocument saves the multipart "file" field to the upload directory and ingests it
func (a *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if !a.knowledgeEnabled(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if !a.knowledge.Reader().Supports(name) {
		writeError(w, http.StatusUnsupportedMediaType, knowledge.ErrUnsupportedDocument.Error())
		return
	}

	dir := a.cfg.Knowledge.UploadDirectory
	if err := os.MkdirAll(dir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := filepath.Join(dir, name)
	if err := saveFile(path, file); err != nil {
		a.logger.WithError(err).WithField("path", path).Error("Failed to save upload")
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	chunks, err := a.knowledge.Ingest(r.Context(), path)
	if err != nil {
		os.Remove(path)
		a.logger.WithError(err).WithField("document", name).Warn("Failed to ingest document")
		writeError(w, ingestStatus(err), err.Error())
		return
	}

	a.logger.WithFields(logrus.Fields{
		"document": name,
		"chunks":   chunks,
		"bytes":    header.Size,
	}).Info("Document uploaded")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document": name,
		"chunks":   chunks,
	})
}

func ingestStatus(err error) int {
	var te *transport.Error
	switch {
	case errors.Is(err, knowledge.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, knowledge.ErrEmbeddingNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if !a.knowledgeEnabled(w) {
		return
	}
	name := filepath.Base(mux.Vars(r)["name"])

	existed, err := a.knowledge.Delete(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	if err := os.Remove(filepath.Join(a.cfg.Knowledge.UploadDirectory, name)); err != nil && !os.IsNotExist(err) {
		a.logger.WithError(err).WithField("document", name).Warn("Failed to remove uploaded file")
	}
	w.WriteHeader(http.StatusNoContent)
}
