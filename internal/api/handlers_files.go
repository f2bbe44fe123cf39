package api

import (
	"net/http"
	"strconv"

	"github.com/pinggolf/gestima/internal/filestore"
)

// handleUploadFile stores a multipart upload and, when an entity is
// named, links it in the same request.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	record, err := s.files.Store(r.Context(), filestore.StoreInput{
		Filename:   header.Filename,
		Content:    file,
		Directory:  r.FormValue("directory"),
		Status:     "active",
		ActingUser: actor,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entityType := r.FormValue("entity_type")
	entityIDRaw := r.FormValue("entity_id")
	if entityType != "" && entityIDRaw != "" {
		entityID, err := strconv.ParseInt(entityIDRaw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		isPrimary := r.FormValue("is_primary") == "true"
		linkType := r.FormValue("link_type")
		if linkType == "" {
			linkType = "attachment"
		}
		if _, err := s.files.Link(r.Context(), record.ID, entityType, entityID, isPrimary, r.FormValue("revision"), linkType, actor); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleServeFile streams a previously uploaded file's content.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	served, err := s.files.Serve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	w.Header().Set("Content-Type", served.MimeType)
	w.Header().Set("Content-Disposition", `inline; filename="`+served.Filename+`"`)
	http.ServeFile(w, r, served.AbsolutePath)
}
