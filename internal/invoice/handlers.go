package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// handleIndex serves the dashboard
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleListInvoices returns all non-deleted invoices, newest first
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices()
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleUploadInvoice accepts a manually uploaded document
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	// 50MB bound covers high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSONError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSONError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeForName(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	inv, err := s.service.ProcessUpload(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		corsError(w, "Invoice not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleGetInvoiceFile returns the archived document for an invoice
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoiceFile(r.PathValue("id"))
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleSetStatus applies a manual status transition
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status PaymentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := s.service.SetStatus(r.PathValue("id"), req.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleDeleteInvoice soft-deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SoftDelete(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting invoice", "error", err)
		corsError(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListFolders returns all watched folders
func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.service.ListFolders()
	if err != nil {
		slog.Error("Error listing folders", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// handleAddFolder registers a new watched folder
func (s *Server) handleAddFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		FolderID string `json:"folder_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	folder, err := s.service.AddFolder(req.Name, req.FolderID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// handleUpdateFolder toggles a folder's enabled flag
func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	folder, err := s.service.SetFolderEnabled(r.PathValue("id"), req.Enabled)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Folder not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// handleDeleteFolder unregisters a watched folder
func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveFolder(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Folder not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting folder", "error", err)
		corsError(w, "Error deleting folder", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunSync triggers a sync run and reports how many invoices it
// ingested. Partial failures still return a count; only total failure is
// an error response.
func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	count, err := s.syncer.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrSyncRunning) {
			writeJSONError(w, http.StatusConflict, "sync already running")
			return
		}
		slog.Error("Sync run failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if promoted, err := s.service.RefreshOverdue(); err != nil {
		slog.Warn("Overdue refresh failed", "error", err)
	} else if promoted > 0 {
		slog.Info("Promoted overdue invoices", "count", promoted)
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed_count": count})
}
