package handler

import (
	"errors"
	"net/http"

	"github.com/Sarthak2477/Legal-Document-Processor/middleware"
	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/Sarthak2477/Legal-Document-Processor/pkg/logger"
	"github.com/Sarthak2477/Legal-Document-Processor/service"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// RAGHandler exposes the query engine over HTTP: free-text questions,
// risk analysis, summaries and checklists against READY contracts.
type RAGHandler struct {
	engine   *service.QueryEngine
	store    *service.ContractStore
	validate *validator.Validate
}

func NewRAGHandler(engine *service.QueryEngine) *RAGHandler {
	return &RAGHandler{
		engine:   engine,
		store:    service.GetContractStore(),
		validate: validator.New(),
	}
}

type QueryRequest struct {
	ContractID string `json:"contract_id" validate:"required,uuid4"`
	Question   string `json:"question" validate:"required,min=3,max=2000"`
}

type AnalysisRequest struct {
	ContractID string `json:"contract_id" validate:"required,uuid4"`
}

// Query answers a free-text question about a contract.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.visible(c, req.ContractID) {
		return
	}

	answer, err := h.engine.Ask(c.Request.Context(), req.ContractID, req.Question)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// Risks runs the risk analysis template. The status field tells "no
// risks detected" apart from an analysis outage, which is a 503.
func (h *RAGHandler) Risks(c *gin.Context) {
	var req AnalysisRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.visible(c, req.ContractID) {
		return
	}

	findings, err := h.engine.AnalyzeRisks(c.Request.Context(), req.ContractID)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	status := "risks found"
	if len(findings) == 0 {
		status = service.NoRisksDetected
	}
	c.JSON(http.StatusOK, gin.H{"risks": findings, "status": status})
}

// Summary produces a plain-language summary of the contract.
func (h *RAGHandler) Summary(c *gin.Context) {
	var req AnalysisRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.visible(c, req.ContractID) {
		return
	}

	summary, err := h.engine.Summarize(c.Request.Context(), req.ContractID)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// Checklist builds a review checklist from the contract's clauses.
func (h *RAGHandler) Checklist(c *gin.Context) {
	var req AnalysisRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.visible(c, req.ContractID) {
		return
	}

	items, err := h.engine.GenerateChecklist(c.Request.Context(), req.ContractID)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checklist": items})
}

func (h *RAGHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed: " + err.Error()})
		return false
	}
	return true
}

// visible enforces tenant scoping before the engine sees the request.
func (h *RAGHandler) visible(c *gin.Context, contractID string) bool {
	tenant := middleware.GetTenant(c)
	contract := h.store.Get(contractID)
	if contract == nil || contract.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return false
	}
	return true
}

func (h *RAGHandler) writeEngineError(c *gin.Context, err error) {
	var notReady *model.NotReadyError
	var genErr *model.GenerationUnavailableError
	switch {
	case errors.Is(err, model.ErrContractNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
	case errors.As(err, &notReady):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Contract is not ready for queries",
			"status": notReady.Status,
		})
	case errors.As(err, &genErr):
		logger.Error(c.Request.Context(), "generation unavailable", "error", genErr)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis is temporarily unavailable"})
	default:
		logger.Error(c.Request.Context(), "query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
	}
}
