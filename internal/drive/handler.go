package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

// Forecaster runs forecasts for loaded files; satisfied by
// *service.ForecastService.
type Forecaster interface {
	RunForecast(ctx context.Context, req service.ForecastRequest) (*service.ForecastResponse, error)
}

type Handler struct {
	source     Source
	loader     *Loader
	forecaster Forecaster
}

func NewHandler(source Source, loader *Loader, forecaster Forecaster) *Handler {
	return &Handler{
		source:     source,
		loader:     loader,
		forecaster: forecaster,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/drive/files", h.ListFiles).Methods(http.MethodGet)
	router.HandleFunc("/api/drive/forecast", h.Forecast).Methods(http.MethodPost)
	router.HandleFunc("/api/drive/import", h.Import).Methods(http.MethodPost)
}

// Router returns a mux router with the drive routes registered.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	folderID := query.Get("folderId")

	if folderPath := query.Get("path"); folderPath != "" {
		id, err := h.source.FindFolderByPath(r.Context(), folderPath)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		folderID = id
	}

	files, err := h.source.ListFiles(r.Context(), folderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

// Forecast loads a Drive file and runs the pipeline on it.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fileID := query.Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId parameter is required", http.StatusBadRequest)
		return
	}

	req := service.ForecastRequest{}
	for name, dst := range map[string]*int{
		"seasonalPeriods": &req.SeasonalPeriods,
		"horizon":         &req.Horizon,
	} {
		if v := query.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid "+name, http.StatusBadRequest)
				return
			}
			*dst = n
		}
	}
	if v := query.Get("confidenceLevel"); v != "" {
		level, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid confidenceLevel", http.StatusBadRequest)
			return
		}
		req.ConfidenceLevel = level
	}

	rows, file, err := h.loader.Load(r.Context(), fileID)
	if err != nil {
		writeError(w, domain.HTTPStatus(err), err)
		return
	}
	req.Name = file.Name
	req.Observations = rows

	resp, err := h.forecaster.RunForecast(r.Context(), req)
	if err != nil {
		writeError(w, domain.HTTPStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Import stores a Drive file in the sales history.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId parameter is required", http.StatusBadRequest)
		return
	}

	n, err := h.loader.Import(r.Context(), fileID, r.URL.Query().Get("series"))
	if err != nil {
		writeError(w, domain.HTTPStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "rows": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	})
}
