package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miguel-bm/slidechat/internal/db"
	"github.com/miguel-bm/slidechat/internal/storage"
)

// officeEmbedURL is the Office Online viewer that renders a deck from a public URL.
const officeEmbedURL = "https://view.officeapps.live.com/op/embed.aspx?src="

// deckTypes maps accepted deck extensions to their canonical content type.
var deckTypes = map[string]string{
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptm": "application/vnd.ms-powerpoint.presentation.macroEnabled.12",
}

// deckContentType returns the content type to store a deck under, or "" when
// the upload is not an accepted deck. A generic client type defers to the
// file extension.
func deckContentType(fileName, declared string) string {
	byExt := deckTypes[strings.ToLower(path.Ext(fileName))]

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return byExt
	}
	for _, ct := range deckTypes {
		if strings.EqualFold(mediaType, ct) {
			return ct
		}
	}
	return ""
}

type uploadResponse struct {
	Path         string           `json:"path"`
	FileName     string           `json:"fileName"`
	ContentType  string           `json:"contentType"`
	SizeBytes    int64            `json:"sizeBytes"`
	Presentation *db.Presentation `json:"presentation,omitempty"`
}

// countingReader counts bytes and fails once more than max have been read.
type countingReader struct {
	r   io.Reader
	n   int64
	max int64
}

var errUploadTooLarge = errors.New("upload too large")

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.max {
		return n, errUploadTooLarge
	}
	return n, err
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Leave room for multipart framing around the file part.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}
		if p.FormName() == "file" {
			part = p
			break
		}
		p.Close()
	}

	fileName := part.FileName()
	if fileName == "" {
		writeError(w, http.StatusBadRequest, "file name is required")
		return
	}
	contentType := deckContentType(fileName, part.Header.Get("Content-Type"))
	if contentType == "" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type (expected .pptx, .ppt or .pptm)")
		return
	}

	body := &countingReader{r: part, max: s.maxUploadBytes}
	key, err := s.store.Upload(r.Context(), storage.Key(fileName, time.Now()), body)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	if body.n == 0 {
		s.discardBlob(r, key)
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	resp := uploadResponse{
		Path:        key,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   body.n,
	}

	if r.URL.Query().Get("record") == "true" {
		p, err := s.db.CreatePresentation(db.CreatePresentationInput{
			FilePath:    key,
			FileName:    fileName,
			ContentType: contentType,
			SizeBytes:   body.n,
		})
		if err != nil {
			slog.Error("failed to record presentation", "path", key, "error", err)
			s.discardBlob(r, key)
			writeError(w, http.StatusInternalServerError, "failed to create presentation")
			return
		}
		resp.Presentation = p
	}

	slog.Info("deck uploaded", "path", key, "size", body.n)
	writeJSON(w, http.StatusCreated, resp)
}

func writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errUploadTooLarge), errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, "file already exists")
	case errors.Is(err, storage.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid file name")
	default:
		slog.Error("upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
	}
}

func (s *Server) discardBlob(r *http.Request, key string) {
	if err := s.store.Delete(r.Context(), key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("failed to remove blob", "path", key, "error", err)
	}
}

func (s *Server) handleListPresentations(w http.ResponseWriter, r *http.Request) {
	presentations, err := s.db.ListPresentations()
	if err != nil {
		slog.Error("list presentations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list presentations")
		return
	}
	writeJSON(w, http.StatusOK, presentations)
}

func (s *Server) handleCreatePresentation(w http.ResponseWriter, r *http.Request) {
	var input db.CreatePresentationInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(input.FilePath) == "" || strings.TrimSpace(input.FileName) == "" {
		writeError(w, http.StatusBadRequest, "filePath and fileName are required")
		return
	}
	if input.ContentType == "" {
		input.ContentType = deckContentType(input.FileName, "")
	}

	p, err := s.db.CreatePresentation(input)
	if err != nil {
		slog.Error("create presentation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create presentation")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetPresentation(urlParam(r, "id"))
	if err != nil {
		writeDBError(w, err, "presentation")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePresentation(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetPresentation(urlParam(r, "id"))
	if err != nil {
		writeDBError(w, err, "presentation")
		return
	}

	if err := s.db.DeletePresentation(p.ID); err != nil {
		writeDBError(w, err, "presentation")
		return
	}
	s.discardBlob(r, p.FilePath)

	w.WriteHeader(http.StatusNoContent)
}

// handlePresentationFile serves the stored deck inline, for the viewer.
func (s *Server) handlePresentationFile(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetPresentation(urlParam(r, "id"))
	if err != nil {
		writeDBError(w, err, "presentation")
		return
	}

	rc, err := s.store.Download(r.Context(), p.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "presentation file not found")
			return
		}
		slog.Error("download deck failed", "path", p.FilePath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read presentation file")
		return
	}
	defer rc.Close()

	contentType := p.ContentType
	if contentType == "" {
		contentType = deckContentType(p.FileName, "")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": p.FileName}))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("deck download interrupted", "id", p.ID, "error", err)
	}
}

type viewerResponse struct {
	Presentation *db.Presentation `json:"presentation"`
	FileURL      string           `json:"fileUrl"`
	EmbedURL     string           `json:"embedUrl,omitempty"`
}

// handlePresentationViewer returns the URLs the front end embeds. The Office
// Online embed needs an absolute, publicly reachable file URL, so it is only
// offered when server.public_url is configured.
func (s *Server) handlePresentationViewer(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetPresentation(urlParam(r, "id"))
	if err != nil {
		writeDBError(w, err, "presentation")
		return
	}

	resp := viewerResponse{
		Presentation: p,
		FileURL:      s.publicURL + "/api/presentations/" + p.ID + "/file",
	}
	if s.publicURL != "" {
		resp.EmbedURL = officeEmbedURL + url.QueryEscape(resp.FileURL)
	}
	writeJSON(w, http.StatusOK, resp)
}
