package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/middlewares"
	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/models/reports"
	"github.com/creditfield/loan_backend/utils"
	"github.com/creditfield/loan_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type blockRequest struct {
	Reason   string          `json:"reason"`
	Severity models.Severity `json:"severity"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

// statusForError maps workflow errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case models.IsValidationError(err), errors.Is(err, models.ErrUnknownTemplate):
		return http.StatusBadRequest
	case models.IsStateError(err),
		errors.Is(err, models.ErrConcurrentModification),
		errors.Is(err, workflow.ErrLockNotObtained),
		errors.Is(err, workflow.ErrInvestigationExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, funcName string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "investigationHandlers.go", funcName, c.Request.URL.Path, nil, err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	c.JSON(status, body)
}

func investigationIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid investigation id"})
		return 0, false
	}
	return id, true
}

func parseIdList(raw string) ([]int, error) {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return nil, errors.New("ids is required")
	}
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return utils.UniqueSlice(ids), nil
}

func createInvestigationHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ApplicationSnapshot
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		res, err := svc.CreateInvestigation(c.Request.Context(), req)
		if err != nil {
			writeError(c, "createInvestigationHandler", err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func getInvestigationHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		inv, err := svc.GetInvestigation(c.Request.Context(), id)
		if err != nil {
			writeError(c, "getInvestigationHandler", err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func getSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		summary, err := middlewares.GetSummary(c.Request.Context(), id)
		if err != nil {
			writeError(c, "getSummaryHandler", err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func getSummariesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := parseIdList(c.Query("ids"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		list, errs := middlewares.GetSummaries(c.Request.Context(), ids)
		out := make(map[string]*models.InvestigationSummary, len(ids))
		missing := []int{}
		for i, id := range ids {
			if len(errs) > i && errs[i] != nil {
				if !errors.Is(errs[i], utils.ErrorRecordNotFound) {
					writeError(c, "getSummariesHandler", errs[i])
					return
				}
				missing = append(missing, id)
				continue
			}
			out[strconv.Itoa(id)] = list[i]
		}
		c.JSON(http.StatusOK, gin.H{"summaries": out, "missing": missing})
	}
}

func captureHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req workflow.CaptureInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		f, err := svc.CaptureObservation(c.Request.Context(), id, c.Param("fieldKey"), req)
		if err != nil {
			writeError(c, "captureHandler", err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

func blockHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req blockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		f, err := svc.BlockField(c.Request.Context(), id, c.Param("fieldKey"), req.Reason, req.Severity)
		if err != nil {
			writeError(c, "blockHandler", err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

func reopenHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		f, err := svc.ReopenField(c.Request.Context(), id, c.Param("fieldKey"))
		if err != nil {
			writeError(c, "reopenHandler", err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

func unblockHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req reasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		f, err := svc.UnblockField(c.Request.Context(), id, c.Param("fieldKey"), req.Reason)
		if err != nil {
			writeError(c, "unblockHandler", err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

func commentHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req commentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		inv, err := svc.SetGeneralComment(c.Request.Context(), id, req.Comment)
		if err != nil {
			writeError(c, "commentHandler", err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func finalizeHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		res, err := svc.Finalize(c.Request.Context(), id)
		if err != nil {
			writeError(c, "finalizeHandler", err)
			return
		}
		if !res.Completed() {
			c.JSON(http.StatusConflict, gin.H{
				"error":            res.Refusal.Summary(),
				"blocking_reasons": res.Refusal.Reasons,
			})
			return
		}
		c.JSON(http.StatusOK, res.Investigation)
	}
}

func cancelHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req reasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		inv, err := svc.CancelInvestigation(c.Request.Context(), id, req.Reason)
		if err != nil {
			writeError(c, "cancelHandler", err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func discrepanciesHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		report, err := svc.GenerateDiscrepancyReport(c.Request.Context(), id)
		if err != nil {
			writeError(c, "discrepanciesHandler", err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func discrepanciesExcelHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		report, err := svc.GenerateDiscrepancyReport(c.Request.Context(), id)
		if err != nil {
			writeError(c, "discrepanciesExcelHandler", err)
			return
		}
		c.Header("Content-Type", xlsxContentType)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="discrepancies-%s.xlsx"`, report.ApplicationId))
		c.Status(http.StatusOK)
		if err := reports.WriteDiscrepancyExcel(report, c.Writer); err != nil {
			config.LogError(config.GetLogger(), "investigationHandlers.go", "discrepanciesExcelHandler", "WriteDiscrepancyExcel", id, err)
			_ = c.Error(err)
		}
	}
}

func historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		rows, err := middlewares.GetHistory(c.Request.Context(), id)
		if err != nil {
			writeError(c, "historyHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": rows})
	}
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		list, err := models.ListOutboxStatus(c.Request.Context(), config.GetDB(), id)
		if err != nil {
			writeError(c, "outboxStatusHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": list})
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

// outboxReplayHandler requeues a FAILED or DEAD investigation event.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}
		status, err := models.ReplayOutboxEvent(c.Request.Context(), config.GetDB(), req.RecordId, time.Now().UTC())
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no FAILED or DEAD event with that id"})
				return
			}
			writeError(c, "outboxReplayHandler", err)
			return
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":     "outboxReplayHandler",
			"record_id": req.RecordId,
		}).Warn("outbox event requeued")
		c.JSON(http.StatusOK, status)
	}
}
