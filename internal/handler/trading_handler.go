package handler

import (
	"net/http"

	"github.com/haimerb/iqbts/internal/middleware"
	"github.com/haimerb/iqbts/internal/pkg/response"
	"github.com/haimerb/iqbts/internal/service"
)

// TradingHandler exposes the live trading handle operations.
type TradingHandler struct {
	tradingService service.TradingService
}

// NewTradingHandler creates a new trading handler.
func NewTradingHandler(tradingService service.TradingService) *TradingHandler {
	return &TradingHandler{tradingService: tradingService}
}

// Balance handles GET /balance
func (h *TradingHandler) Balance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tradingService.Balance(r.Context(), middleware.GetUsername(r.Context()))
	middleware.RecordTradingCall("balance", err)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, resp)
}

// ResetPracticeBalance handles POST /reset-practice-balance
func (h *TradingHandler) ResetPracticeBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.tradingService.ResetPracticeBalance(r.Context(), middleware.GetUsername(r.Context()))
	middleware.RecordTradingCall("reset_practice_balance", err)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, resp)
}
