// Package vaulthttp serves the strategist/keeper HTTP API.
package vaulthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vaultd/internal/compound"
	"vaultd/internal/store/auditlog"
	"vaultd/internal/store/model"
	"vaultd/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdapterSource resolves configured adapters by id when a strategist
// registers one over the API.
type AdapterSource interface {
	Resolve(id string) (vault.StrategyAdapter, bool)
}

// Reporter is the read side of the persistent report/event log.
type Reporter interface {
	ListReports(ctx context.Context, strategyID string, limit int) ([]model.ReportModel, error)
	ListEvents(ctx context.Context, limit int) ([]model.EventModel, error)
}

// Router wires the vault engine and the payload executor to HTTP handlers.
type Router struct {
	Vault    *vault.Vault
	Probe    *vault.StatusProbe
	Executor *compound.Executor
	Reports  Reporter
	Audit    *auditlog.AuditStore
	Adapters AdapterSource

	DefaultLossToleranceBps int64
}

// Register mounts all routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/vault/status", r.handleStatus)
	group.GET("/vault/strategies", r.handleListStrategies)
	group.GET("/vault/strategies/:id", r.handleStrategyDetail)
	group.POST("/vault/strategies", r.handleAddStrategy)
	group.DELETE("/vault/strategies/:id", r.handleRevokeStrategy)
	group.POST("/vault/strategies/:id/debt", r.handleSetTargetDebt)
	group.POST("/vault/strategies/:id/reconcile", r.handleReconcile)
	group.GET("/vault/strategies/:id/reports", r.handleReports)
	group.GET("/vault/pending", r.handlePending)
	group.POST("/vault/withdraw", r.handleWithdraw)
	group.GET("/vault/events", r.handleEvents)

	group.POST("/compound/execute", r.handleExecute)
	group.POST("/compound/validate", r.handleValidate)
	group.GET("/compound/executions", r.handleExecutions)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Vault.Snapshot())
}

func (r *Router) handleListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": r.Vault.Snapshot().Strategies})
}

func (r *Router) handleStrategyDetail(c *gin.Context) {
	snap, ok := r.Vault.Strategy(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type addStrategyRequest struct {
	ID      string `json:"id"`
	MaxDebt string `json:"max_debt"`
}

func (r *Router) handleAddStrategy(c *gin.Context) {
	var req addStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	maxDebt, err := decimal.NewFromString(strings.TrimSpace(req.MaxDebt))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_debt is not a valid amount"})
		return
	}
	if r.Adapters == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no adapter source configured"})
		return
	}
	adapter, ok := r.Adapters.Resolve(req.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown adapter id"})
		return
	}
	if err := r.Vault.AddStrategy(c.Request.Context(), adapter, maxDebt); err != nil {
		respondVaultError(c, err)
		return
	}
	snap, _ := r.Vault.Strategy(req.ID)
	c.JSON(http.StatusCreated, snap)
}

func (r *Router) handleRevokeStrategy(c *gin.Context) {
	if err := r.Vault.RevokeStrategy(c.Request.Context(), c.Param("id")); err != nil {
		respondVaultError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": c.Param("id")})
}

type setDebtRequest struct {
	Target           string `json:"target"`
	LossToleranceBps *int64 `json:"loss_tolerance_bps"`
}

func (r *Router) handleSetTargetDebt(c *gin.Context) {
	var req setDebtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := decimal.NewFromString(strings.TrimSpace(req.Target))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is not a valid amount"})
		return
	}
	tolerance := r.DefaultLossToleranceBps
	if req.LossToleranceBps != nil {
		tolerance = *req.LossToleranceBps
	}
	realized, err := r.Vault.SetTargetDebt(c.Request.Context(), c.Param("id"), target, tolerance)
	if err != nil {
		respondVaultError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": c.Param("id"), "current_debt": realized})
}

func (r *Router) handleReconcile(c *gin.Context) {
	report, err := r.Vault.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondVaultError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleReports(c *gin.Context) {
	if r.Reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no report store configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := r.Reports.ListReports(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": rows})
}

func (r *Router) handlePending(c *gin.Context) {
	if r.Probe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status probe configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": r.Probe.PendingAll(c.Request.Context())})
}

type withdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (r *Router) handleWithdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a valid amount"})
		return
	}
	if err := r.Vault.Withdraw(c.Request.Context(), strings.TrimSpace(req.Recipient), amount); err != nil {
		respondVaultError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount, "recipient": req.Recipient})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.Reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no event store configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := r.Reports.ListEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

type executeRequest struct {
	Payload      json.RawMessage `json:"payload"`
	MinAmountOut string          `json:"min_amount_out"`
}

func (r *Router) handleExecute(c *gin.Context) {
	caller := strings.TrimSpace(c.GetHeader("X-Caller"))
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minOut, err := decimal.NewFromString(strings.TrimSpace(req.MinAmountOut))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_amount_out is not a valid amount"})
		return
	}
	amountOut, err := r.Executor.Execute(c.Request.Context(), caller, req.Payload, minOut)
	if err != nil {
		respondExecutorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount_out": amountOut})
}

type validateRequest struct {
	Payload json.RawMessage `json:"payload"`
}

func (r *Router) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.Executor.DryValidate(c.Request.Context(), req.Payload))
}

func (r *Router) handleExecutions(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no audit log configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	q := auditlog.Query{
		Caller: c.Query("caller"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	}
	rows, err := r.Audit.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := r.Audit.Count(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": rows, "total": total})
}

func respondVaultError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrNotActive):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyActive),
		errors.Is(err, vault.ErrDebtOutstanding):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrCapacityExceeded),
		errors.Is(err, vault.ErrAssetMismatch),
		errors.Is(err, vault.ErrDebtExceedsCeiling),
		errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidTolerance):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrLossToleranceExceeded),
		errors.Is(err, vault.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func respondExecutorError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, compound.ErrUnauthorizedCaller):
		status = http.StatusForbidden
	case errors.Is(err, compound.ErrAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, compound.ErrMalformedPayload),
		errors.Is(err, compound.ErrExpired),
		errors.Is(err, compound.ErrSlippageTooHigh),
		errors.Is(err, compound.ErrInvalidSignature):
		status = http.StatusBadRequest
	case errors.Is(err, compound.ErrInsufficientOutput),
		errors.Is(err, compound.ErrRouterUnavailable):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
