package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/svezina/internal/imaging"
	"github.com/erazemk/svezina/internal/model"
	"github.com/erazemk/svezina/internal/store"
	"github.com/erazemk/svezina/internal/tracker"
)

// ItemsHandler handles item CRUD endpoints.
type ItemsHandler struct {
	DB      *sql.DB
	Tracker *tracker.Service
	Images  imaging.Options
}

type itemRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	PurchaseDate string `json:"purchase_date"`
	ExpiryDate   string `json:"expiry_date"`
	Quantity     *int   `json:"quantity"`
	Notes        string `json:"notes"`
}

func (req itemRequest) item() model.Item {
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	return model.Item{
		Name:         req.Name,
		Category:     req.Category,
		PurchaseDate: req.PurchaseDate,
		ExpiryDate:   req.ExpiryDate,
		Quantity:     qty,
		Notes:        req.Notes,
	}
}

// itemView adds derived fields to an item for clients.
type itemView struct {
	model.Item
	Tag model.CategoryTag `json:"tag"`
}

func view(item model.Item) itemView {
	return itemView{Item: item, Tag: model.ClassifyCategory(item.Category)}
}

// writeTrackerError maps tracker errors to responses.
func writeTrackerError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		jsonError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, tracker.ErrInvalid):
		jsonError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("item request failed", "action", action, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// List handles GET /api/items?q=&category=&sort=asc|desc.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ItemFilter{Query: q.Get("q"), Category: q.Get("category")}

	items, err := h.Tracker.List(r.Context(), filter, q.Get("sort"))
	if err != nil {
		writeTrackerError(w, err, "list items")
		return
	}

	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, view(it))
	}
	jsonResponse(w, http.StatusOK, views)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Tracker.Create(r.Context(), req.item())
	if err != nil {
		writeTrackerError(w, err, "create item")
		return
	}

	jsonResponse(w, http.StatusCreated, view(*item))
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.Tracker.Get(r.Context(), id)
	if err != nil {
		writeTrackerError(w, err, "get item")
		return
	}

	jsonResponse(w, http.StatusOK, view(*item))
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Tracker.Update(r.Context(), id, req.item())
	if err != nil {
		writeTrackerError(w, err, "update item")
		return
	}

	jsonResponse(w, http.StatusOK, view(*item))
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := h.Tracker.Delete(r.Context(), id); err != nil {
		writeTrackerError(w, err, "delete item")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image with a multipart "image" field.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	limit := h.Images.MaxBytes
	if limit <= 0 {
		limit = imaging.DefaultMaxBytes
	}
	// Leave room for the multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)

	if err := r.ParseMultipartForm(limit); err != nil {
		jsonError(w, http.StatusRequestEntityTooLarge, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file, h.Images)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	case errors.Is(err, imaging.ErrUnsupported):
		jsonError(w, http.StatusUnsupportedMediaType, "image must be JPEG or PNG")
		return
	case err != nil:
		slog.Error("processing image", "item", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to process image")
		return
	}

	found, err := store.SetItemImage(r.Context(), h.DB, id, photo.Data, photo.MIME)
	if err != nil {
		slog.Error("saving image", "item", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	if !found {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "image uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	data, mime, err := store.GetItemImage(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
