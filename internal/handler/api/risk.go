package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/service/ratelimit"
	"FundGuard/internal/usecase"
	xhttp "FundGuard/pkg/http"
	xlogger "FundGuard/pkg/logger"
	"FundGuard/pkg/util"
)

// RiskHandler exposes the risk engine over HTTP.
type RiskHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.RiskEngine
	history domrepo.AuditStore
	config  domrepo.ConfigProvider
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func NewRiskHandler(logger *xlogger.Logger, engine *usecase.RiskEngine, history domrepo.AuditStore, config domrepo.ConfigProvider, limiter *ratelimit.Limiter) *RiskHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &RiskHandler{logger: logger, engine: engine, history: history, config: config, limiter: limiter, now: time.Now}
}

func (h *RiskHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	if h.limiter != nil {
		g.Use(RateLimit(h.limiter))
	}
	g.POST("/operations", h.SubmitOperation)
	g.POST("/operations/preview", h.PreviewOperation)

	g.POST("/managers", h.RegisterManager)
	g.POST("/funds", h.RegisterFund)
	g.POST("/investors", h.RegisterInvestor)

	g.GET("/investors/:id", h.Investor)
	g.POST("/investors/:id/review", h.Review)
	g.POST("/investors/:id/fraud", h.Fraud)
	g.GET("/funds/:id/slashing", h.SlashingHistory)

	g.GET("/breaker", h.BreakerStatus)
	g.POST("/breaker/reset", h.ResetBreaker)
	g.GET("/config", h.Config)
}

// RateLimit rejects callers over their token bucket, keyed by client IP.
func RateLimit(l *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
			}
			return next(c)
		}
	}
}

func (h *RiskHandler) SubmitOperation(c echo.Context) error {
	return h.operation(c, false)
}

func (h *RiskHandler) PreviewOperation(c echo.Context) error {
	return h.operation(c, true)
}

func (h *RiskHandler) operation(c echo.Context, preview bool) error {
	req := &models.OperationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	op, err := req.ToOperation(h.now())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	var res *models.OperationResult
	if preview {
		res, err = h.engine.Preview(c.Request().Context(), op)
	} else {
		res, err = h.engine.Submit(c.Request().Context(), op)
	}
	if err != nil {
		h.logger.Error("operation not evaluated",
			xlogger.String("operation_id", op.ID),
			xlogger.Bool("preview", preview),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskHandler) RegisterManager(c echo.Context) error {
	req := &models.RegisterManagerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := req.ToManager()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if err := h.engine.RegisterManager(c.Request().Context(), m); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, m)
}

func (h *RiskHandler) RegisterFund(c echo.Context) error {
	req := &models.RegisterFundRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, err := req.ToFund()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if err := h.engine.RegisterFund(c.Request().Context(), f); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, f)
}

func (h *RiskHandler) RegisterInvestor(c echo.Context) error {
	req := &models.RegisterInvestorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	inv, err := req.ToInvestor(h.now())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if err := h.engine.RegisterInvestor(c.Request().Context(), inv); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, inv)
}

func (h *RiskHandler) Investor(c echo.Context) error {
	req := &models.InvestorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	view, err := h.engine.InvestorView(c.Request().Context(), req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *RiskHandler) Review(c echo.Context) error {
	req := &models.ReviewRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts, err := h.engine.SubmitReview(c.Request().Context(), models.ReviewDecision{
		InvestorID: req.ID,
		Approved:   req.Approved,
		Reviewer:   req.Reviewer,
		Note:       req.Note,
		DecidedAt:  h.now(),
	})
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, ts)
}

func (h *RiskHandler) Fraud(c echo.Context) error {
	req := &models.FraudRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts, err := h.engine.ConfirmFraud(c.Request().Context(), req.ID, req.Reason)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, ts)
}

func (h *RiskHandler) SlashingHistory(c echo.Context) error {
	req := &models.SlashingHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("audit store not configured"))
	}
	now := h.now()
	since := util.ParseSince(req.Since, now, now.AddDate(0, 0, -30))
	rows, err := h.history.SlashingHistory(c.Request().Context(), req.FundID, since, req.Limit)
	if err != nil {
		h.logger.Error("slashing history query failed", xlogger.String("fund_id", req.FundID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskHandler) BreakerStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Breaker().Status())
}

func (h *RiskHandler) ResetBreaker(c echo.Context) error {
	req := &models.BreakerResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.engine.ResetBreaker(req.Operator))
}

func (h *RiskHandler) Config(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.config.Current())
}

// toAppError maps the domain error taxonomy onto HTTP statuses.
func toAppError(err error) error {
	var (
		pre   *models.PreconditionError
		stale *models.StaleDataError
		trans *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &pre):
		return xhttp.PreconditionError(pre.Field, pre.Reason).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrExists), errors.As(err, &trans):
		return xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrCircuitOpen), errors.Is(err, models.ErrOutboxFull), errors.As(err, &stale):
		return xhttp.ServiceUnavailableError(err.Error())
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

var _ xhttp.Handler = (*RiskHandler)(nil)
