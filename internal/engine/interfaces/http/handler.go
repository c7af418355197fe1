// Package http 交易引擎 REST 接口
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"
	"github.com/wyfcoding/tradingengine/internal/engine/application"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

// TradingHandler 交易引擎 HTTP 处理器
type TradingHandler struct {
	service *application.TradingService
}

// NewTradingHandler 创建处理器
func NewTradingHandler(service *application.TradingService) *TradingHandler {
	return &TradingHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *TradingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1")
	{
		api.POST("/orders", h.SubmitOrder)
		api.POST("/orders/batch", h.BatchSubmit)
		api.POST("/orders/oco", h.SubmitOCO)
		api.DELETE("/orders/:id", h.CancelOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/open-orders", h.GetOpenOrders)
		api.GET("/orderbook/:symbol", h.GetOrderBook)
		api.GET("/trades/:symbol", h.GetTrades)
		api.GET("/positions", h.GetPositions)
		api.GET("/balances", h.GetBalances)
		api.PUT("/mark-price/:symbol", h.UpdateMarkPrice)

		admin := api.Group("/admin")
		{
			admin.POST("/deposit", h.Deposit)
			admin.GET("/dead-letters", h.DeadLetters)
		}
	}
}

// statusOf 错误类别到 HTTP 状态码
func statusOf(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeInvalid, domain.CodeLimitExceeded, domain.CodeInsufficientFunds:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNotCancellable:
		return http.StatusConflict
	case domain.CodeBackpressure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SubmitOrder 下单
func (h *TradingHandler) SubmitOrder(c *gin.Context) {
	var req application.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	view, err := h.service.SubmitOrder(c.Request.Context(), &req)
	if err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, view)
}

// BatchSubmit 批量下单
func (h *TradingHandler) BatchSubmit(c *gin.Context) {
	var req application.BatchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	response.Success(c, h.service.BatchSubmit(c.Request.Context(), &req))
}

// SubmitOCO OCO 下单
func (h *TradingHandler) SubmitOCO(c *gin.Context) {
	var req application.OCORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	views, err := h.service.SubmitOCO(c.Request.Context(), &req)
	if err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, views)
}

// CancelOrder 撤单。id 为引擎订单号；传 client_order_id=true 时按用户自定义号撤。
func (h *TradingHandler) CancelOrder(c *gin.Context) {
	userID := c.Query("user_id")

	if c.Query("client_order_id") == "true" {
		ok, err := h.service.CancelByClientID(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
			return
		}
		response.Success(c, gin.H{"cancelled": ok})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid order id", "")
		return
	}

	ok, err := h.service.CancelOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		logging.Warn(c.Request.Context(), "cancel order failed",
			"order_id", orderID,
			"error", err,
		)
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, gin.H{"cancelled": ok})
}

// GetOrder 订单详情
func (h *TradingHandler) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid order id", "")
		return
	}

	view, err := h.service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, view)
}

// GetOpenOrders 活跃订单
func (h *TradingHandler) GetOpenOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	response.Success(c, h.service.GetOpenOrders(userID, c.Query("symbol")))
}

// GetOrderBook 订单簿快照
func (h *TradingHandler) GetOrderBook(c *gin.Context) {
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "20"))
	snapshot, err := h.service.GetOrderBook(c.Request.Context(), c.Param("symbol"), depth)
	if err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, snapshot)
}

// GetTrades 最近成交
func (h *TradingHandler) GetTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := h.service.GetTrades(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	response.Success(c, trades)
}

// GetPositions 用户持仓
func (h *TradingHandler) GetPositions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	response.Success(c, h.service.GetPositions(userID))
}

// GetBalances 用户余额
func (h *TradingHandler) GetBalances(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	response.Success(c, h.service.GetBalances(userID))
}

type markPriceReq struct {
	Price string `json:"price" binding:"required"`
}

// UpdateMarkPrice 注入标记价
func (h *TradingHandler) UpdateMarkPrice(c *gin.Context) {
	var req markPriceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.service.UpdateMarkPrice(c.Param("symbol"), req.Price); err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	c.Status(http.StatusOK)
}

type depositReq struct {
	UserID string `json:"user_id" binding:"required"`
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Deposit 入金（管理接口）
func (h *TradingHandler) Deposit(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.service.Deposit(req.UserID, req.Asset, req.Amount); err != nil {
		response.ErrorWithStatus(c, statusOf(err), err.Error(), string(domain.CodeOf(err)))
		return
	}
	c.Status(http.StatusOK)
}

// DeadLetters 扇出死信缓冲
func (h *TradingHandler) DeadLetters(c *gin.Context) {
	response.Success(c, h.service.DeadLetters())
}
