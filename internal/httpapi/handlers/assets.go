package handlers

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"vidrender/internal/httpkit"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/ports"
	"vidrender/internal/worker/processor"
	"vidrender/internal/worker/util"
)

const multipartMemory = 32 << 20

type assetView struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	ObjectKey string `json:"object_key"`
	// Source is what a scene element puts in "src" to use the asset.
	Source    string `json:"source"`
	Mime      string `json:"mime"`
	SizeBytes int64  `json:"size_bytes"`
}

// PostAsset stores an uploaded image or video under assets/{id}/original.ext.
func (h *Handler) PostAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.fail(w, r, errors.WrapWithCode(err, errors.CodeValidation, "assets.create", "invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, errors.ValidationField("file", "file is required"))
		return
	}
	defer file.Close()

	ext, contentType := describeUpload(header)
	id := util.NewID("ast")
	out, err := h.sp.PutObject(r.Context(), ports.PutObjectInput{
		ObjectKey:   "assets/" + id + "/original" + ext,
		ContentType: contentType,
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "assets.create", "storage put failed"))
		return
	}

	h.log.FromContext(r.Context()).Info("asset stored", "asset_id", id, "object_key", out.ObjectKey, "size", out.Size)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"asset": assetView{
		ID:        id,
		Provider:  h.sp.Provider(),
		ObjectKey: out.ObjectKey,
		Source:    processor.StorageScheme + out.ObjectKey,
		Mime:      contentType,
		SizeBytes: out.Size,
	}})
}

func (h *Handler) StreamAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := h.streamObject(w, r, key, "asset", ""); err != nil {
		h.fail(w, r, err)
	}
}

func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := h.sp.DeleteObject(r.Context(), key); err != nil {
		h.fail(w, r, storageErr(err, "asset", key, "assets.delete"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamObject copies a stored object to w. fallbackType is used when the
// provider does not know the content type. Errors are only returned before
// the first byte is written.
func (h *Handler) streamObject(w http.ResponseWriter, r *http.Request, key, resource, fallbackType string) error {
	rc, ct, size, err := h.sp.GetObject(r.Context(), key)
	if err != nil {
		return storageErr(err, resource, key, "storage.get")
	}
	defer rc.Close()

	if ct == "" {
		ct = fallbackType
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(r.Context()).Warn("stream interrupted", "object_key", key, "error", err.Error())
	}
	return nil
}

func storageErr(err error, resource, key, op string) error {
	if errors.Is(err, ports.ErrObjectNotFound) {
		return errors.NotFound(resource, key)
	}
	return errors.Wrap(err, op, "storage request failed")
}

// describeUpload picks the stored extension and content type from the
// filename and the part header, whichever is present.
func describeUpload(header *multipart.FileHeader) (ext, contentType string) {
	contentType = header.Header.Get("Content-Type")
	ext = strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = extForType(contentType)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if ext == "" {
		ext = ".bin"
	}
	return ext, contentType
}

func extForType(contentType string) string {
	if ext := processor.ExtFromMime(contentType); ext != "" || contentType == "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
