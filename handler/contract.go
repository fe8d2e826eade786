package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sarthak2477/Legal-Document-Processor/middleware"
	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/Sarthak2477/Legal-Document-Processor/pkg/logger"
	"github.com/Sarthak2477/Legal-Document-Processor/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ContractHandler struct {
	minioService *service.MinioService
	orchestrator *service.Orchestrator
	index        service.VectorIndex
	store        *service.ContractStore
}

func NewContractHandler(minioSvc *service.MinioService, orch *service.Orchestrator, index service.VectorIndex) *ContractHandler {
	return &ContractHandler{
		minioService: minioSvc,
		orchestrator: orch,
		index:        index,
		store:        service.GetContractStore(),
	}
}

var allowedExtensions = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/markdown",
}

// Upload accepts a contract file, stores it and starts the processing
// pipeline. The response returns immediately with the new contract ID;
// progress is observed through GetStatus.
func (h *ContractHandler) Upload(c *gin.Context) {
	tenant := middleware.GetTenant(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF, TXT and MD files are allowed"})
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		contentType = ct
	}

	contractID := uuid.New().String()
	objectName := fmt.Sprintf("%s/%s/%s", tenant, contractID, header.Filename)

	if err := h.minioService.UploadFile(c.Request.Context(), objectName, file, header.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	fileURL, err := h.minioService.GetPresignedURL(c.Request.Context(), objectName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
		return
	}

	contract := &model.Contract{
		ID:         contractID,
		Filename:   header.Filename,
		Tenant:     tenant,
		ObjectName: objectName,
		FileURL:    fileURL,
		Status:     model.StatusUploaded,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	h.store.Save(contract)

	runID, err := h.orchestrator.Submit(c.Request.Context(), contractID)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to start pipeline", "contract_id", contractID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start processing: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       contractID,
		"filename": header.Filename,
		"run_id":   runID,
		"status":   model.StatusUploaded,
	})
}

// List returns all contracts for the current tenant, without the heavy
// text and clause fields.
func (h *ContractHandler) List(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	contracts := h.store.GetByTenant(tenant)

	result := make([]gin.H, len(contracts))
	for i, contract := range contracts {
		result[i] = gin.H{
			"id":           contract.ID,
			"filename":     contract.Filename,
			"status":       contract.Status,
			"clause_count": contract.ClauseCount,
			"created_at":   contract.CreatedAt.Format(time.RFC3339),
			"updated_at":   contract.UpdatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"contracts": result})
}

// Get returns the full contract record including extracted text and
// clauses once available.
func (h *ContractHandler) Get(c *gin.Context) {
	contract := h.tenantContract(c)
	if contract == nil {
		return
	}
	c.JSON(http.StatusOK, contract)
}

// GetStatus returns the contract's current pipeline state. It never
// blocks and always reflects the latest persisted state.
func (h *ContractHandler) GetStatus(c *gin.Context) {
	contract := h.tenantContract(c)
	if contract == nil {
		return
	}

	resp := gin.H{
		"id":     contract.ID,
		"status": contract.Status,
	}
	if contract.CurrentStage != "" {
		resp["current_stage"] = contract.CurrentStage
	}
	if contract.Error != nil {
		resp["error"] = contract.Error
	}
	c.JSON(http.StatusOK, resp)
}

// Reprocess restarts a FAILED or CANCELLED contract.
func (h *ContractHandler) Reprocess(c *gin.Context) {
	contract := h.tenantContract(c)
	if contract == nil {
		return
	}

	runID, err := h.orchestrator.Reprocess(c.Request.Context(), contract.ID)
	if err != nil {
		var apErr *model.AlreadyProcessingError
		var valErr *model.ValidationError
		switch {
		case errors.As(err, &apErr):
			c.JSON(http.StatusConflict, gin.H{"error": apErr.Error(), "status": apErr.Status})
		case errors.As(err, &valErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     contract.ID,
		"run_id": runID,
		"status": model.StatusExtracting,
	})
}

// Cancel stops the contract's active pipeline run.
func (h *ContractHandler) Cancel(c *gin.Context) {
	contract := h.tenantContract(c)
	if contract == nil {
		return
	}

	if !h.orchestrator.Cancel(contract.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "No active run for this contract"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": contract.ID, "message": "Cancellation requested"})
}

// Delete removes the contract record, its stored file and its index
// entries. A contract with an active run cannot be deleted.
func (h *ContractHandler) Delete(c *gin.Context) {
	contract := h.tenantContract(c)
	if contract == nil {
		return
	}

	if !model.IsTerminal(contract.Status) && contract.Status != model.StatusUploaded {
		c.JSON(http.StatusConflict, gin.H{"error": "Contract is processing; cancel the run first"})
		return
	}

	ctx := c.Request.Context()
	if h.minioService != nil && contract.ObjectName != "" {
		if err := h.minioService.DeleteFile(ctx, contract.ObjectName); err != nil {
			logger.Warn(ctx, "failed to delete stored file", "contract_id", contract.ID, "error", err)
		}
	}
	if h.index != nil {
		if err := h.index.DeleteContract(ctx, contract.ID); err != nil {
			logger.Warn(ctx, "failed to delete index entries", "contract_id", contract.ID, "error", err)
		}
	}
	h.store.Delete(contract.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// tenantContract loads the contract and enforces tenant scoping,
// writing the 404 response itself when the contract is not visible.
func (h *ContractHandler) tenantContract(c *gin.Context) *model.Contract {
	tenant := middleware.GetTenant(c)
	contract := h.store.Get(c.Param("id"))
	if contract == nil || contract.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return nil
	}
	return contract
}
