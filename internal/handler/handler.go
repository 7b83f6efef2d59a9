package handler

import (
	"strconv"
	"strings"

	"coinbank/internal/service"
	"coinbank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLen = 64

// Handler holds the services behind the REST routes.
type Handler struct {
	users     *service.UserService
	transfers *service.TransferService
	balances  *service.BalanceService
	logger    *zap.Logger
}

func NewHandler(users *service.UserService, transfers *service.TransferService, balances *service.BalanceService, logger *zap.Logger) *Handler {
	return &Handler{
		users:     users,
		transfers: transfers,
		balances:  balances,
		logger:    logger.Named("http"),
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid account id")
		return 0, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.ParamError(c, "invalid page")
		return 0, 0, false
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		response.ParamError(c, "invalid page_size")
		return 0, 0, false
	}
	return page, pageSize, true
}

func idempotencyKey(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		response.ParamError(c, "Idempotency-Key must be at most 64 characters")
		return "", false
	}
	return key, true
}

// ============================================================
// Users
// ============================================================

// Register
// POST /api/v1/users
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, account)
}

// ListUsers
// GET /api/v1/users?page=1&page_size=20
func (h *Handler) ListUsers(c *gin.Context) {
	page, pageSize, ok := pageQuery(c)
	if !ok {
		return
	}

	accounts, p, err := h.users.List(c.Request.Context(), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, response.PageData{Items: accounts, Page: p.Page, PageSize: p.PageSize, Total: p.Total})
}

// GetUser
// GET /api/v1/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	account, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// UpdateUser replaces the profile.
// PUT /api/v1/users/:id
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.users.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// PatchUser
// PATCH /api/v1/users/:id
func (h *Handler) PatchUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.users.Patch(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// DeleteUser
// DELETE /api/v1/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn checks credentials. Token issuance happens in the gateway.
// POST /api/v1/auth/signin
func (h *Handler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// ============================================================
// Balances
// ============================================================

type TransferBody struct {
	ToEmail     string           `json:"to_email"`
	ToAccountID int64            `json:"to_account_id"`
	Amount      *decimal.Decimal `json:"amount" binding:"required"`
}

// Transfer sends coins from the calling account, identified by the
// X-Account-Email header the gateway sets after authentication.
// POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	actor := strings.TrimSpace(c.GetHeader(headerAccountEmail))
	if actor == "" {
		response.Unauthorized(c, "missing "+headerAccountEmail)
		return
	}
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var body TransferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	var to service.AccountRef
	switch {
	case body.ToAccountID > 0 && body.ToEmail == "":
		to = service.ByID(body.ToAccountID)
	case body.ToAccountID == 0 && strings.TrimSpace(body.ToEmail) != "":
		to = service.ByEmail(body.ToEmail)
	default:
		response.ParamError(c, "exactly one of to_email and to_account_id is required")
		return
	}

	res, err := h.transfers.Transfer(c.Request.Context(), &service.TransferRequest{
		From:           service.ByEmail(actor),
		To:             to,
		Amount:         *body.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, res)
}

type AdjustBody struct {
	Delta  *decimal.Decimal `json:"delta" binding:"required"`
	Remark string           `json:"remark" binding:"max=256"`
}

// AdjustBalance credits or debits one account.
// PATCH /api/v1/users/:id/balance
func (h *Handler) AdjustBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var body AdjustBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.balances.Adjust(c.Request.Context(), &service.AdjustRequest{
		Account:        service.ByID(id),
		Delta:          *body.Delta,
		IdempotencyKey: key,
		Remark:         body.Remark,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, res)
}

// ListLedger
// GET /api/v1/users/:id/ledger?page=1&page_size=20
func (h *Handler) ListLedger(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	page, pageSize, ok := pageQuery(c)
	if !ok {
		return
	}

	entries, p, err := h.users.Ledger(c.Request.Context(), id, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, response.PageData{Items: entries, Page: p.Page, PageSize: p.PageSize, Total: p.Total})
}
