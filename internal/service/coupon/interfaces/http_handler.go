// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/domain"
)

// CouponHandler 封装了 coupon 服务的 HTTP 处理器
type CouponHandler struct {
	service *application.CouponApplicationService
}

// NewCouponHandler 创建一个新的 HTTP 处理器实例
func NewCouponHandler(service *application.CouponApplicationService) *CouponHandler {
	return &CouponHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CouponHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/coupons/issue", h.handleIssue)
	mux.HandleFunc("/coupons/status", h.handleStatus)
	mux.HandleFunc("/coupons/activate", h.handleActivate)
	mux.HandleFunc("/coupons/apply", h.handleApply)
	mux.HandleFunc("/coupons/validate", h.handleValidate)
}

// handleIssue 是领取入口：同步返回准入结果，发放本身是异步的。
func (h *CouponHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.IssueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CouponID == 0 || req.UserID == 0 {
		http.Error(w, "coupon_id and user_id are required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.RequestIssuance(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, resp)
}

func (h *CouponHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	couponID, err := strconv.ParseInt(r.URL.Query().Get("coupon_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid coupon_id", http.StatusBadRequest)
		return
	}
	// user_id 可选：带上时响应会包含该用户是否已请求过
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)

	resp, err := h.service.IssuanceStatus(ctx, couponID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, resp)
}

func (h *CouponHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		CouponID int64 `json:"coupon_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ActivateIssuance(ctx, req.CouponID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success":   true,
		"coupon_id": req.CouponID,
	})
}

func (h *CouponHandler) handleApply(w http.ResponseWriter, r *http.Request) {
	h.handleUsage(w, r, h.service.ApplyCoupon)
}

func (h *CouponHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	h.handleUsage(w, r, h.service.ValidateCouponUsage)
}

func (h *CouponHandler) handleUsage(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, req *application.ApplyCouponRequest) (*application.ApplyCouponResponse, error),
) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ApplyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := op(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, resp)
}

// writeDomainError 根据错误类型返回不同的 HTTP 状态码
func writeDomainError(w http.ResponseWriter, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrCouponNotFound),
		errors.Is(err, domain.ErrUserCouponNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrCouponNotActive),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponNotYetValid),
		errors.Is(err, domain.ErrAlreadyUsedCoupon),
		errors.Is(err, domain.ErrCouponNotUsable),
		errors.Is(err, domain.ErrMinOrderAmount),
		errors.Is(err, domain.ErrNotEligible),
		errors.Is(err, domain.ErrNotCouponOwner):
		statusCode = http.StatusForbidden // 客户端请求有效，但业务规则拒绝执行
	default:
		statusCode = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), statusCode)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
