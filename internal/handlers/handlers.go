package handlers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/food-classifier/internal/metadata"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/Brownie44l1/food-classifier/internal/upload"
	"github.com/rs/zerolog/log"
)

const (
	fieldModelName = "model_name"
	fieldFile      = "file"

	// UploadRoute is where the upload directory is served from.
	UploadRoute = "/static/uploaded/"
)

// Messages rendered for rejected requests.
const (
	MsgInvalidModel     = "Invalid model selected"
	MsgModelNotFound    = "Model not found"
	MsgNoFileUploaded   = "No file uploaded"
	MsgNoSelectedFile   = "No selected file"
	MsgInvalidImage     = "Invalid image file"
	MsgPredictionFailed = "Prediction failed"
	MsgBadRequest       = "Failed to parse form"
	MsgSaveFailed       = "Could not save file"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"format": formatValue,
}).ParseFS(templateFS, "templates/index.html"))

// formatValue renders strings as-is and anything else as JSON.
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Models is the subset of the model registry the handler needs.
type Models interface {
	Names() []string
	Has(name string) bool
	Load(name string) (*model.Handle, error)
}

type Handler struct {
	models         Models
	meta           *metadata.Store
	preprocessor   *preprocess.Preprocessor
	uploads        *upload.Store
	maxUploadBytes int64
}

func NewHandler(models Models, meta *metadata.Store, preprocessor *preprocess.Preprocessor, uploads *upload.Store, maxUploadBytes int64) *Handler {
	return &Handler{
		models:         models,
		meta:           meta,
		preprocessor:   preprocessor,
		uploads:        uploads,
		maxUploadBytes: maxUploadBytes,
	}
}

type page struct {
	Models     []string
	Selected   string
	Metrics    map[string]any
	Error      string
	Prediction string
	Confidence float32
	ImagePath  string
	ImageURL   string
	FoodInfo   metadata.FoodInfo
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Index serves the upload page on GET and classifies the upload on POST.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.render(w, http.StatusOK, h.newPage(""))
	case http.MethodPost:
		h.classify(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) newPage(selected string) *page {
	return &page{
		Models:   h.models.Names(),
		Selected: selected,
		Metrics:  h.meta.Metrics(),
	}
}

func (h *Handler) reject(w http.ResponseWriter, status int, p *page, msg string) {
	p.Error = msg
	h.render(w, status, p)
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		log.Warn().Err(err).Msg("Failed to parse upload form")
		h.reject(w, http.StatusBadRequest, h.newPage(""), MsgBadRequest)
		return
	}

	modelName := r.PostFormValue(fieldModelName)
	p := h.newPage(modelName)

	if !h.models.Has(modelName) {
		h.reject(w, http.StatusOK, p, MsgInvalidModel)
		return
	}

	handle, err := h.models.Load(modelName)
	if err != nil {
		if errors.Is(err, model.ErrUnknownModel) {
			h.reject(w, http.StatusOK, p, MsgInvalidModel)
			return
		}
		if !errors.Is(err, model.ErrModelNotFound) {
			log.Error().Err(err).Str("model", modelName).Msg("Model load failed")
		}
		h.reject(w, http.StatusOK, p, MsgModelNotFound)
		return
	}
	defer handle.Close()

	header, msg := uploadedFile(r)
	if msg != "" {
		h.reject(w, http.StatusOK, p, msg)
		return
	}

	file, err := header.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		h.reject(w, http.StatusInternalServerError, p, MsgSaveFailed)
		return
	}
	savePath, err := h.uploads.Save(header.Filename, file)
	file.Close()
	if err != nil {
		if errors.Is(err, upload.ErrInvalidName) {
			h.reject(w, http.StatusOK, p, MsgNoSelectedFile)
			return
		}
		log.Error().Err(err).Msg("Failed to persist upload")
		h.reject(w, http.StatusInternalServerError, p, MsgSaveFailed)
		return
	}

	log.Info().Msgf("Received file: %s, size: %d bytes, model: %s", header.Filename, header.Size, modelName)

	prediction, err := h.predict(handle, savePath)
	if err != nil {
		if errors.Is(err, preprocess.ErrDecode) {
			log.Warn().Err(err).Str("file", savePath).Msg("Rejected undecodable image")
			h.reject(w, http.StatusUnprocessableEntity, p, MsgInvalidImage)
			return
		}
		log.Error().Err(err).Str("model", modelName).Msg("Prediction error")
		h.reject(w, http.StatusInternalServerError, p, MsgPredictionFailed)
		return
	}

	foodInfo, ok := h.meta.Food(prediction.Class)
	if !ok {
		foodInfo = metadata.FoodInfo{}
	}

	log.Info().Msgf("Predicted %s (index %d, score %.4f) with %s", prediction.Class, prediction.Index, prediction.Confidence, modelName)

	p.Prediction = prediction.Class
	p.Confidence = prediction.Confidence
	p.ImagePath = savePath
	p.ImageURL = UploadRoute + url.PathEscape(filepath.Base(savePath))
	p.FoodInfo = foodInfo
	h.render(w, http.StatusOK, p)
}

// predict classifies the stored copy of the upload.
func (h *Handler) predict(handle *model.Handle, path string) (*model.Prediction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	inputData, err := h.preprocessor.Preprocess(f, handle.Layout, handle.Normalization)
	if err != nil {
		return nil, err
	}
	return model.Predict(handle.Classifier, inputData, h.meta)
}

// uploadedFile returns the "file" part or the message explaining why there
// is none. Browsers send an unselected file input as a part with an empty
// filename, which mime/multipart may keep as a plain value.
func uploadedFile(r *http.Request) (*multipart.FileHeader, string) {
	form := r.MultipartForm
	if form == nil {
		return nil, MsgNoFileUploaded
	}
	if headers := form.File[fieldFile]; len(headers) > 0 {
		if headers[0].Filename == "" {
			return nil, MsgNoSelectedFile
		}
		return headers[0], ""
	}
	if _, ok := form.Value[fieldFile]; ok {
		return nil, MsgNoSelectedFile
	}
	return nil, MsgNoFileUploaded
}

func (h *Handler) render(w http.ResponseWriter, status int, p *page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, p); err != nil {
		log.Error().Err(err).Msg("Failed to render page")
	}
}
