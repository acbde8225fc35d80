package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/middlewares"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/mmdatafocus/mrv_backend/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func registerRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", readyHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/pubsub/analysis", analysisPushHandler)
	r.POST("/internal/credits/:id/settle", middlewares.InternalKeyMiddleware(), settleCreditHandler)

	api := r.Group("/api", middlewares.RequireUser())
	api.POST("/farmers", createFarmerHandler)
	api.GET("/farmers/me", farmerProfileHandler)
	api.DELETE("/farmers/:id", deleteFarmerHandler)

	api.POST("/farmers/:id/crops", createCropHandler)
	api.GET("/farmers/:id/crops", listCropsHandler)
	api.GET("/farmers/:id/crop-stats", cropStatsHandler)
	api.PUT("/crops/:id/status", updateCropStatusHandler)

	api.POST("/uploads/evidence", uploadTargetHandler)
	api.POST("/farmers/:id/verifications", submitEvidenceHandler)
	api.GET("/farmers/:id/verifications", listVerificationsHandler)
	api.GET("/farmers/:id/satellite", satelliteHandler)
	api.GET("/verifications", reviewQueueHandler)

	api.POST("/farmers/:id/credits/generate", generateCreditsHandler)
	api.GET("/farmers/:id/credits", listCreditsHandler)
	api.GET("/farmers/:id/carbon-stats", carbonStatsHandler)

	api.POST("/farmers/:id/reports", generateReportHandler)
	api.GET("/farmers/:id/reports", listReportsHandler)
	api.GET("/reports/:id", getReportHandler)
	api.GET("/reports/:id/export", exportReportHandler)
	api.GET("/compliance-stats", complianceStatsHandler)

	api.POST("/nodes", createNodeHandler)
	api.GET("/nodes", listNodesHandler)
	api.POST("/nodes/:id/join", joinNodeHandler)
	api.POST("/nodes/:id/leave", leaveNodeHandler)
	api.POST("/nodes/:id/recompute", recomputeNodeHandler)
	api.DELETE("/nodes/:id/farmers/:farmerId", removeNodeFarmerHandler)
	api.GET("/farmers/:id/node", farmerNodeHandler)
	api.GET("/community-stats", communityStatsHandler)

	api.POST("/farmers/:id/sensors", addSensorReadingHandler)
	api.GET("/farmers/:id/sensors", listSensorReadingsHandler)
}

func appFrom(c *gin.Context) *app {
	return c.MustGet(appKey).(*app)
}

// respondError maps err onto a status; internal errors are logged and hidden.
func respondError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	if status == http.StatusBadRequest {
		c.JSON(status, utils.ProcessValidationErrors(err))
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// analysisPushHandler is the Pub/Sub push endpoint. Poison messages and
// records that no longer exist are acked; anything else is retried.
func analysisPushHandler(c *gin.Context) {
	a := appFrom(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(a.logger, "handlers.go", "analysisPushHandler", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	task, err := workflow.DecodePushMessage(body)
	if err != nil {
		config.LogError(a.logger, "handlers.go", "analysisPushHandler", "DecodePushMessage", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}
	ctx := c.Request.Context()
	if task.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, task.CorrelationId)
	}
	if err := a.pipeline.HandleTask(ctx, task); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			a.logger.WithFields(logrus.Fields{
				"field":     "analysisPushHandler",
				"record_id": task.RecordId,
			}).Warn("dropping analysis task: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		config.LogError(a.logger, "handlers.go", "analysisPushHandler", "HandleTask", task, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

func settleCreditHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req models.CreditSettlement
	if !bindJSON(c, &req) {
		return
	}
	credit, err := appFrom(c).credits.AdvanceCreditStatus(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

func createFarmerHandler(c *gin.Context) {
	var req models.NewFarmer
	if !bindJSON(c, &req) {
		return
	}
	farmer, err := appFrom(c).farmers.CreateFarmer(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, farmer)
}

func farmerProfileHandler(c *gin.Context) {
	farmer, err := appFrom(c).farmers.GetFarmerProfile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, farmer)
}

func deleteFarmerHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := appFrom(c).farmers.DeleteFarmer(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func createCropHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req models.NewCrop
	if !bindJSON(c, &req) {
		return
	}
	crop, err := appFrom(c).farmers.CreateCrop(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, crop)
}

func listCropsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	crops, err := appFrom(c).farmers.ListFarmerCrops(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, crops)
}

func cropStatsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stats, err := appFrom(c).farmers.CropStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func updateCropStatusHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status models.CropStatus `json:"status"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := appFrom(c).farmers.UpdateCropStatus(c.Request.Context(), id, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func uploadTargetHandler(c *gin.Context) {
	var req struct {
		FarmerId    int    `json:"farmer_id"`
		ContentType string `json:"content_type"`
	}
	if !bindJSON(c, &req) {
		return
	}
	target, err := appFrom(c).pipeline.CreateUploadTarget(c.Request.Context(), req.FarmerId, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func submitEvidenceHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req workflow.SubmitEvidenceInput
	if !bindJSON(c, &req) {
		return
	}
	req.FarmerId = id
	recordId, err := appFrom(c).pipeline.SubmitEvidence(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":     recordId,
		"status": models.VerificationStatusPendingAnalysis,
	})
}

func listVerificationsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	records, err := appFrom(c).pipeline.ListFarmerVerifications(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func satelliteHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	data, err := appFrom(c).pipeline.LatestSatelliteData(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if data == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, data)
}

func reviewQueueHandler(c *gin.Context) {
	status := models.VerificationStatusPendingReview
	if s := c.Query("status"); s != "" {
		parsed, err := models.ParseVerificationStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	}
	records, err := appFrom(c).pipeline.ListVerificationsByStatus(c.Request.Context(), status, queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func generateCreditsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req struct {
		WindowDays int `json:"window_days"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	credits, err := appFrom(c).credits.GenerateCredits(c.Request.Context(), id, req.WindowDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, credits)
}

func listCreditsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	credits, err := appFrom(c).credits.ListFarmerCredits(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, credits)
}

func carbonStatsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stats, err := appFrom(c).credits.GetCarbonStats(c.Request.Context(), id, queryInt(c, "days", 30))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type generateReportRequest struct {
	PracticeType models.PracticeType `json:"practice_type"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      time.Time           `json:"end_date"`
}

func generateReportHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req generateReportRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := appFrom(c).reports.GenerateReport(c.Request.Context(), id, req.PracticeType, req.StartDate, req.EndDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func listReportsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	reports, err := appFrom(c).reports.ListFarmerReports(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func getReportHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	report, err := appFrom(c).reports.GetReport(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func exportReportHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	report, err := appFrom(c).reports.GetReport(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", workflow.ReportXLSXContentType())
	c.Header("Content-Disposition", `attachment; filename="`+workflow.ReportXLSXFilename(report)+`"`)
	c.Status(http.StatusOK)
	if err := workflow.ExportComplianceReportXLSX(c.Writer, report); err != nil {
		// headers are already out
		_ = c.Error(err)
	}
}

func complianceStatsHandler(c *gin.Context) {
	practice := models.PracticeType(c.Query("practice_type"))
	if practice != "" && !practice.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid practice type"})
		return
	}
	stats, err := appFrom(c).reports.ComplianceStats(c.Request.Context(), practice)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func createNodeHandler(c *gin.Context) {
	var req models.NewMRVNode
	if !bindJSON(c, &req) {
		return
	}
	node, err := appFrom(c).community.CreateNode(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func listNodesHandler(c *gin.Context) {
	nodes, err := appFrom(c).community.ListActiveNodes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nodes)
}

type nodeMemberRequest struct {
	FarmerId int `json:"farmer_id"`
}

func joinNodeHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req nodeMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	node, err := appFrom(c).community.JoinNode(c.Request.Context(), id, req.FarmerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func leaveNodeHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req nodeMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	node, err := appFrom(c).community.LeaveNode(c.Request.Context(), id, req.FarmerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func removeNodeFarmerHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	farmerId, ok := pathId(c, "farmerId")
	if !ok {
		return
	}
	node, err := appFrom(c).community.RemoveFarmer(c.Request.Context(), id, farmerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func recomputeNodeHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	node, err := appFrom(c).community.RecomputeNode(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func farmerNodeHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	node, err := appFrom(c).community.GetFarmerNode(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func communityStatsHandler(c *gin.Context) {
	stats, err := appFrom(c).community.CommunityStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func addSensorReadingHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req models.NewSensorReading
	if !bindJSON(c, &req) {
		return
	}
	reading, err := appFrom(c).sensors.AddSensorReading(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reading)
}

func listSensorReadingsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	sensorType := models.SensorType(c.Query("type"))
	if sensorType != "" && !sensorType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sensor type"})
		return
	}
	readings, err := appFrom(c).sensors.ListSensorReadings(c.Request.Context(), id, sensorType, queryInt(c, "hours", 24))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, readings)
}
