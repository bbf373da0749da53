package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/app"
	"github.com/banux/caderneta/internal/gesture"
	"github.com/banux/caderneta/internal/importer"
	"github.com/banux/caderneta/internal/normalize"
	"github.com/banux/caderneta/internal/viewer"
)

const (
	// maxUploadSize is the maximum request size accepted for imports (100 MiB).
	maxUploadSize = 100 << 20

	// maxInputSize bounds the JSON body of /api/input.
	maxInputSize = 4 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, album.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, viewer.ErrNotOccupied):
		return http.StatusNotFound
	case errors.Is(err, normalize.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, app.ErrImportInProgress), errors.Is(err, app.ErrNoTarget):
		return http.StatusConflict
	case errors.Is(err, gesture.ErrUnknownEvent):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), httpStatus(err))
}

// slotIndex extracts the {index} route variable.
func slotIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		return 0, fmt.Errorf("bad slot index: %w", err)
	}
	return i, nil
}

// imageURL is the address the page loads a sticker image from. The hash
// parameter changes whenever the slot content does, so responses can be
// cached indefinitely.
func imageURL(i int, hash string) string {
	return fmt.Sprintf("/api/slots/%d/image?h=%s", i, hash)
}

type slotJSON struct {
	app.SlotView
	Image string `json:"image,omitempty"`
}

type viewerJSON struct {
	app.ViewerView
	Image string `json:"image,omitempty"`
}

// albumJSON is app.PageView with image URLs filled in.
type albumJSON struct {
	app.PageView
	Slots  []slotJSON `json:"slots"`
	Viewer viewerJSON `json:"viewer"`
}

func toViewerJSON(v app.ViewerView) viewerJSON {
	out := viewerJSON{ViewerView: v}
	if v.Open {
		out.Image = imageURL(v.Index, v.Hash)
	}
	return out
}

func toAlbumJSON(v app.PageView) albumJSON {
	out := albumJSON{
		PageView: v,
		Slots:    make([]slotJSON, len(v.Slots)),
		Viewer:   toViewerJSON(v.Viewer),
	}
	for i, sv := range v.Slots {
		out.Slots[i] = slotJSON{SlotView: sv}
		if sv.Occupied {
			out.Slots[i].Image = imageURL(sv.Index, sv.Hash)
		}
	}
	return out
}

// handleHealth serves a simple health-check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleAlbum returns the current page snapshot.
// Query param "page" (zero-based) jumps to that page first.
func (s *Server) handleAlbum(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Query().Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		s.album.JumpTo(page)
	}
	writeJSON(w, http.StatusOK, toAlbumJSON(s.album.View()))
}

// handleVersion long-polls for a change: it answers as soon as the version
// differs from ?since= or after the long-poll window.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]uint64{"version": s.album.Version()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.LongPoll)
	defer cancel()
	v, _ := s.album.Wait(ctx, since)
	writeJSON(w, http.StatusOK, map[string]uint64{"version": v})
}

// handleStorage reports how much of the storage quota is in use.
// Returns 501 if the backend cannot tell.
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Usage == nil {
		http.Error(w, "storage usage not supported by this backend", http.StatusNotImplemented)
		return
	}
	used, capacity, err := s.opts.Usage.Usage(r.Context())
	if err != nil {
		http.Error(w, "storage usage: "+err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"used":       used,
		"capacity":   capacity,
		"used_human": humanize.Bytes(uint64(used)),
	}
	if capacity > 0 {
		resp["capacity_human"] = humanize.Bytes(uint64(capacity))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleImage serves the normalized JPEG of an occupied slot.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	i, err := slotIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.album.Image(i)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("ETag", strconv.Quote(st.Hash))
	if r.URL.Query().Get("h") == st.Hash {
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(st.Image))
}

// readUpload parses a multipart form and returns the content of its "file" field.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("request too large or malformed: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing 'file' field in form: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

// handleImportSingle places the uploaded "file" into the slot in the path.
func (s *Server) handleImportSingle(w http.ResponseWriter, r *http.Request) {
	i, err := slotIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.album.ImportSingle(r.Context(), i, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleImportPending places the uploaded "file" into the slot picked by
// the last tap on an empty slot.
func (s *Server) handleImportPending(w http.ResponseWriter, r *http.Request) {
	raw, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.album.ImportPending(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleImportBatch imports every "files" entry of a multipart form into
// consecutive empty slots.
func (s *Server) handleImportBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "request too large or malformed: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	files := make([]importer.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, importer.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Open:        openPart(fh),
		})
	}
	res, err := s.album.ImportBatch(r.Context(), files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

// handleRemove clears a slot.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	i, err := slotIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.album.Dispatch(r.Context(), gesture.Command{Kind: gesture.Remove, Index: i}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlbumJSON(s.album.View()))
}

// handleReset wipes the album. Returns 409 while an import is running.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.album.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlbumJSON(s.album.View()))
}

// handleTurnPage turns one page after the transition delay.
func (s *Server) handleTurnPage(w http.ResponseWriter, r *http.Request) {
	forward := mux.Vars(r)["dir"] == "next"
	if _, err := s.album.TurnPage(r.Context(), forward); err != nil {
		// The client went away mid-transition; nothing changed.
		return
	}
	writeJSON(w, http.StatusOK, toAlbumJSON(s.album.View()))
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toViewerJSON(s.album.Viewer()))
}

func (s *Server) handleViewerOpen(w http.ResponseWriter, r *http.Request) {
	i, err := slotIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.album.Dispatch(r.Context(), gesture.Command{Kind: gesture.OpenViewer, Index: i}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewerJSON(s.album.Viewer()))
}

var viewerActions = map[string]gesture.Kind{
	"next":  gesture.ViewerNext,
	"prev":  gesture.ViewerPrev,
	"close": gesture.ViewerClose,
}

func (s *Server) handleViewerAction(w http.ResponseWriter, r *http.Request) {
	kind := viewerActions[mux.Vars(r)["action"]]
	if err := s.album.Dispatch(r.Context(), gesture.Command{Kind: kind}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewerJSON(s.album.Viewer()))
}

// handleInput accepts one raw input event as JSON and returns the page
// snapshot. A single tap on a sticker resolves only after the double-tap
// window; clients pick that up through /api/version.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var ev gesture.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInputSize)).Decode(&ev); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.album.HandleInput(ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlbumJSON(s.album.View()))
}
