package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

type ForecastHandler struct {
	service    *service.ForecastService
	dateLayout string
}

func NewForecastHandler(service *service.ForecastService, dateLayout string) *ForecastHandler {
	return &ForecastHandler{service: service, dateLayout: dateLayout}
}

// ObservationPayload is one input row as sent by clients. Dates are
// strings so any supported layout can be used.
type ObservationPayload struct {
	Date           string   `json:"date" binding:"required"`
	Sales          *float64 `json:"sales"`
	InventoryLevel float64  `json:"inventory_level"`
}

type ForecastPayload struct {
	Name            string               `json:"name"`
	Observations    []ObservationPayload `json:"observations" binding:"required"`
	SeasonalPeriods int                  `json:"seasonal_periods"`
	Horizon         int                  `json:"horizon"`
	TrainRatio      float64              `json:"train_ratio"`
	ConfidenceLevel float64              `json:"confidence_level"`
}

// UploadForm carries the optional fields sent next to an uploaded file.
type UploadForm struct {
	Name            string  `form:"name"`
	SeasonalPeriods int     `form:"seasonal_periods"`
	Horizon         int     `form:"horizon"`
	TrainRatio      float64 `form:"train_ratio"`
	ConfidenceLevel float64 `form:"confidence_level"`
}

type InventoryPayload struct {
	Observations    []ObservationPayload `json:"observations" binding:"required"`
	HoldingCostRate float64              `json:"holding_cost_rate"`
}

// RunForecast runs the pipeline on a JSON body.
func (h *ForecastHandler) RunForecast(c *gin.Context) {
	var payload ForecastPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	rows, err := h.toRaw(payload.Observations)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.service.RunForecast(c.Request.Context(), service.ForecastRequest{
		Name:            payload.Name,
		Observations:    rows,
		SeasonalPeriods: payload.SeasonalPeriods,
		Horizon:         payload.Horizon,
		TrainRatio:      payload.TrainRatio,
		ConfidenceLevel: payload.ConfidenceLevel,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UploadForecast runs the pipeline on an uploaded csv or xlsx file sent
// in the "file" form field.
func (h *ForecastHandler) UploadForecast(c *gin.Context) {
	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form field", "details": err.Error()})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}

	format, err := dataset.FormatFromPath(header.Filename)
	if err != nil {
		h.fail(c, err)
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer f.Close()

	rows, err := dataset.Read(f, format, h.dateLayout)
	if err != nil {
		h.fail(c, err)
		return
	}

	if form.Name == "" {
		form.Name = header.Filename
	}

	resp, err := h.service.RunForecast(c.Request.Context(), service.ForecastRequest{
		Name:            form.Name,
		Observations:    rows,
		SeasonalPeriods: form.SeasonalPeriods,
		Horizon:         form.Horizon,
		TrainRatio:      form.TrainRatio,
		ConfidenceLevel: form.ConfidenceLevel,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ForecastHandler) InventoryMetrics(c *gin.Context) {
	var payload InventoryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	rows, err := h.toRaw(payload.Observations)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.service.InventoryMetrics(c.Request.Context(), rows, payload.HoldingCostRate)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ForecastHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, err := h.service.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *ForecastHandler) GetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *ForecastHandler) InvalidateCache(c *gin.Context) {
	if err := h.service.InvalidateCache(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ForecastHandler) toRaw(payload []ObservationPayload) ([]domain.RawObservation, error) {
	rows := make([]domain.RawObservation, len(payload))
	for i, p := range payload {
		date, err := dataset.ParseDate(p.Date, h.dateLayout)
		if err != nil {
			return nil, err
		}
		if (p.Sales != nil && *p.Sales < 0) || p.InventoryLevel < 0 {
			return nil, domain.DataErrorf("row %d: sales and inventory_level must not be negative", i+1)
		}
		rows[i] = domain.RawObservation{Date: date, Sales: p.Sales, InventoryLevel: p.InventoryLevel}
	}
	return rows, nil
}

func (h *ForecastHandler) fail(c *gin.Context, err error) {
	status := domain.HTTPStatus(err)
	if errors.Is(err, service.ErrNoRepository) {
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("forecast request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": domain.ErrorKind(err)})
}
