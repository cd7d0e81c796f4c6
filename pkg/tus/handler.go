// Package tus implements the server side of the TUS 1.0.0 resumable
// upload protocol: creation, core (PATCH append), HEAD, and the
// termination extension, plus the multipartId/partIndex/totalParts
// metadata convention that drives assembly. Routing follows the teacher's
// parsePath/ServeHTTP switch shape in pkg/s3/handler.go, generalized from
// bucket/key to a single staging-id path segment.
package tus

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tusway/tusway/pkg/apierr"
	"github.com/tusway/tusway/pkg/assembly"
	"github.com/tusway/tusway/pkg/metadata"
	"github.com/tusway/tusway/pkg/pathing"
	"github.com/tusway/tusway/pkg/staging"
	"github.com/tusway/tusway/pkg/strategy"
)

const (
	resumableVersion = "1.0.0"
	supportedVersion = resumableVersion
	extensions       = "creation,termination"
)

// Handler serves the TUS resumable-upload HTTP surface.
type Handler struct {
	staging     *staging.Store
	assembler   *assembly.Assembler
	registry    *strategy.Registry
	paths       *pathing.Service
	maxFileSize int64
	log         zerolog.Logger
}

// NewHandler builds a Handler. maxFileSize <= 0 means unlimited.
func NewHandler(st *staging.Store, asm *assembly.Assembler, reg *strategy.Registry, paths *pathing.Service, maxFileSize int64, log zerolog.Logger) *Handler {
	return &Handler{
		staging:     st,
		assembler:   asm,
		registry:    reg,
		paths:       paths,
		maxFileSize: maxFileSize,
		log:         log,
	}
}

// ServeHTTP routes a request by method and path shape: "/api/upload" for
// creation and OPTIONS, "/api/upload/{id}" for append/head/delete.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", resumableVersion)
	setCORSHeaders(w)

	if r.Header.Get("Tus-Resumable") != "" && r.Header.Get("Tus-Resumable") != supportedVersion && r.Method != http.MethodOptions {
		apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusPreconditionFailed,
			"unsupported Tus-Resumable version"))
		return
	}

	id := h.parseID(r.URL.Path)

	if id == "" {
		switch r.Method {
		case http.MethodPost:
			h.create(w, r)
		case http.MethodOptions:
			h.options(w, r)
		default:
			apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusMethodNotAllowed, "method not allowed"))
		}
		return
	}

	switch r.Method {
	case http.MethodPatch:
		h.appendChunk(w, r, id)
	case http.MethodHead:
		h.head(w, r, id)
	case http.MethodDelete:
		h.deleteUpload(w, r, id)
	default:
		apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusMethodNotAllowed, "method not allowed"))
	}
}

const uploadPathPrefix = "api/upload"

// parseID extracts the staging id from "/api/upload/{id}", returning "" for
// the bare "/api/upload" collection path.
func (h *Handler) parseID(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == uploadPathPrefix {
		return ""
	}
	if rest, ok := strings.CutPrefix(trimmed, uploadPathPrefix+"/"); ok {
		return rest
	}
	return ""
}

func (h *Handler) options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Version", supportedVersion)
	w.Header().Set("Tus-Extension", extensions)
	w.WriteHeader(http.StatusNoContent)
}

// setCORSHeaders advertises a permissive CORS policy so browser-based
// clients can read the TUS protocol headers, including Upload-Complete,
// across origins.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, HEAD, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Tus-Resumable, Upload-Length, Upload-Offset, Upload-Metadata, Content-Type")
	w.Header().Set("Access-Control-Expose-Headers", "Tus-Resumable, Tus-Version, Tus-Extension, Upload-Offset, Upload-Length, Upload-Metadata, Upload-Complete, Location")
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	lengthHeader := r.Header.Get("Upload-Length")
	if lengthHeader == "" {
		apierr.Write(w, apierr.New(apierr.CodeMissingHeader, http.StatusBadRequest, "Upload-Length header is required"))
		return
	}

	length, err := strconv.ParseInt(lengthHeader, 10, 64)
	if err != nil || length < 0 {
		apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusBadRequest, "Upload-Length header is invalid"))
		return
	}

	m := metadata.Parse(r.Header.Get("Upload-Metadata"))

	enforced := length
	if m.OriginalFileSize >= 0 {
		enforced = m.OriginalFileSize
	}
	if h.maxFileSize > 0 && enforced > h.maxFileSize {
		apierr.Write(w, apierr.New(apierr.CodeTooLarge, http.StatusRequestEntityTooLarge, "upload exceeds the configured maximum file size"))
		return
	}

	if h.registry.UsesOriginalFilename(m) && m.OnDuplicate == strategy.DuplicatePrevent {
		name := h.paths.Sanitize(m.Filename)
		if h.paths.Exists(name, m.DestinationPath) {
			apierr.Write(w, apierr.New(apierr.CodeDuplicate, http.StatusConflict,
				fmt.Sprintf("File %q already exists and duplicates are not allowed", name)))
			return
		}
	}

	info, err := h.staging.Create(length, m)
	if err != nil {
		apierr.Write(w, apierr.Wrap(apierr.CodeInternal, http.StatusInternalServerError, "failed to create upload", err))
		return
	}

	w.Header().Set("Location", "/api/upload/"+info.ID)
	w.WriteHeader(http.StatusCreated)

	h.log.Info().Str("staging_id", info.ID).Int64("length", length).Msg("upload created")
}

func (h *Handler) appendChunk(w http.ResponseWriter, r *http.Request, id string) {
	if r.Header.Get("Content-Type") != "application/offset+octet-stream" {
		apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusUnsupportedMediaType, "Content-Type must be application/offset+octet-stream"))
		return
	}

	offsetHeader := r.Header.Get("Upload-Offset")
	if offsetHeader == "" {
		apierr.Write(w, apierr.New(apierr.CodeMissingHeader, http.StatusBadRequest, "Upload-Offset header is required"))
		return
	}

	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil || offset < 0 {
		apierr.Write(w, apierr.New(apierr.CodeInvalidHeader, http.StatusBadRequest, "Upload-Offset header is invalid"))
		return
	}

	info, err := h.staging.Append(id, offset, r.Body)
	if err != nil {
		if staging.IsOffsetMismatch(err) {
			apierr.Write(w, apierr.Wrap(apierr.CodeOffsetMismatch, http.StatusConflict, "offset does not match the upload's current position", err))
			return
		}
		apierr.Write(w, apierr.Wrap(apierr.CodeNotFound, http.StatusNotFound, "upload not found", err))
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(info.Offset, 10))

	if done, dest, err := h.assembler.Complete(info); err != nil {
		h.log.Error().Err(err).Str("staging_id", id).Msg("failed to finalize completed upload")
		apierr.Write(w, apierr.Wrap(apierr.CodeInternal, http.StatusInternalServerError, "failed to finalize upload", err))
		return
	} else if done {
		h.log.Info().Str("staging_id", id).Str("destination", dest).Msg("upload complete")
		w.Header().Set("Upload-Complete", "true")
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request, id string) {
	info, ok, err := h.staging.Load(id)
	if err != nil {
		apierr.Write(w, apierr.Wrap(apierr.CodeInternal, http.StatusInternalServerError, "failed to read upload", err))
		return
	}
	if !ok {
		apierr.Write(w, apierr.New(apierr.CodeNotFound, http.StatusNotFound, "upload not found"))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Upload-Offset", strconv.FormatInt(info.Offset, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Upload-Metadata", metadata.Encode(info.Metadata))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) deleteUpload(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok, err := h.staging.Load(id); err != nil {
		apierr.Write(w, apierr.Wrap(apierr.CodeInternal, http.StatusInternalServerError, "failed to read upload", err))
		return
	} else if !ok {
		apierr.Write(w, apierr.New(apierr.CodeNotFound, http.StatusNotFound, "upload not found"))
		return
	}

	if err := h.staging.Remove(id); err != nil {
		apierr.Write(w, apierr.Wrap(apierr.CodeInternal, http.StatusInternalServerError, "failed to delete upload", err))
		return
	}

	h.log.Info().Str("staging_id", id).Msg("upload terminated")
	w.WriteHeader(http.StatusNoContent)
}
