package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JustFixNYC/tenants2-sub000/internal/certmail"
	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/letters/service"
	"github.com/JustFixNYC/tenants2-sub000/internal/platform/ratelimit"
)

// AddressVerifier is the lenient interactive verification surface; satisfied
// by certmail.Client.
type AddressVerifier interface {
	VerifyAddressLenient(ctx context.Context, fields certmail.AddressFields) certmail.Verification
}

type Controller struct {
	svc      *service.Service
	verifier AddressVerifier
	limiter  ratelimit.Store
}

func New(svc *service.Service, verifier AddressVerifier, limiter ratelimit.Store) *Controller {
	return &Controller{svc: svc, verifier: verifier, limiter: limiter}
}

func (h *Controller) Register(e *echo.Echo) {
	g := e.Group("/api/v1")
	h.RegisterV1(g)
}

func (h *Controller) RegisterV1(g *echo.Group) {
	finalizeLimit := ratelimit.Middleware(ratelimit.Policy{
		Name:   "letters:finalize",
		Window: time.Minute,
		Limit:  10,
		Store:  h.limiter,
		Key:    func(c echo.Context) string { return "finalize:" + c.RealIP() },
	})
	g.POST("/letters", h.createLetter)
	g.POST("/letters/:id/finalize", h.finalizeLetter, finalizeLimit)
	g.GET("/letters/:id", h.getLetter)
	g.PUT("/letters/:id/content", h.updateContent)
	g.PUT("/letters/:id/contacts/:role", h.updateContact)
	g.PATCH("/letters/:id/reject", h.rejectLetter)
	g.POST("/addresses/verify", h.verifyAddress)
}

type contactReq struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
	Addr  struct {
		Line1 string `json:"line1"`
		Line2 string `json:"line2"`
		City  string `json:"city"`
		State string `json:"state"`
		Zip   string `json:"zip"`
	} `json:"address"`
}

func (r contactReq) toDomain() domain.Contact {
	return domain.Contact{
		Name:  r.Name,
		Email: r.Email,
		Phone: r.Phone,
		Address: domain.Address{
			Line1: r.Addr.Line1,
			Line2: r.Addr.Line2,
			City:  r.Addr.City,
			State: r.Addr.State,
			Zip:   r.Addr.Zip,
		},
	}
}

type createLetterReq struct {
	UserID               string     `json:"user_id" validate:"required,uuid"`
	Product              string     `json:"product" validate:"required"`
	Locale               string     `json:"locale"`
	HTMLContent          string     `json:"html_content" validate:"required"`
	LocalizedHTMLContent string     `json:"localized_html_content"`
	Sender               contactReq `json:"sender"`
	Landlord             contactReq `json:"landlord"`
	Authority            contactReq `json:"authority"`
	PhysicalMailOptIn    bool       `json:"physical_mail_opt_in"`
}

type letterResp struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	Product              string            `json:"product"`
	Locale               string            `json:"locale"`
	EmailedToLandlordAt  string            `json:"emailed_to_landlord_at,omitempty"`
	MailedAt             string            `json:"mailed_at,omitempty"`
	EmailedToAuthorityAt string            `json:"emailed_to_authority_at,omitempty"`
	EmailedToSenderAt    string            `json:"emailed_to_sender_at,omitempty"`
	FullyProcessedAt     string            `json:"fully_processed_at,omitempty"`
	ChannelStates        map[string]string `json:"channel_states"`
	TrackingNumber       string            `json:"tracking_number,omitempty"`
	RejectedAt           string            `json:"rejected_at,omitempty"`
	RejectionReason      string            `json:"rejection_reason,omitempty"`
	CreatedAt            string            `json:"created_at"`
	UpdatedAt            string            `json:"updated_at"`
}

func toTimeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toLetterResp(l *domain.Letter) letterResp {
	states := make(map[string]string, len(l.ChannelStates))
	for ch, st := range l.ChannelStates {
		states[string(ch)] = string(st)
	}
	return letterResp{
		ID:                   l.ID.String(),
		UserID:               l.UserID.String(),
		Product:              l.Product,
		Locale:               l.Locale,
		EmailedToLandlordAt:  toTimeString(l.EmailedToLandlordAt),
		MailedAt:             toTimeString(l.MailedAt),
		EmailedToAuthorityAt: toTimeString(l.EmailedToAuthorityAt),
		EmailedToSenderAt:    toTimeString(l.EmailedToSenderAt),
		FullyProcessedAt:     toTimeString(l.FullyProcessedAt),
		ChannelStates:        states,
		TrackingNumber:       l.TrackingNumber,
		RejectedAt:           toTimeString(l.RejectedAt),
		RejectionReason:      l.RejectionReason,
		CreatedAt:            l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Controller) createLetter(c echo.Context) error {
	var req createLetterReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	l, err := h.svc.Create(c.Request().Context(), service.CreateInput{
		UserID:               userID,
		Product:              req.Product,
		Locale:               req.Locale,
		HTMLContent:          req.HTMLContent,
		LocalizedHTMLContent: req.LocalizedHTMLContent,
		Sender:               req.Sender.toDomain(),
		Landlord:             req.Landlord.toDomain(),
		Authority:            req.Authority.toDomain(),
		PhysicalMailOptIn:    req.PhysicalMailOptIn,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, toLetterResp(l))
}

// finalizeLetter runs the delivery pass synchronously. The response is
// success once a pass was attempted, regardless of which channels completed.
func (h *Controller) finalizeLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid letter id")
	}
	l, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "letter not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "delivery pass failed")
	}
	return c.JSON(http.StatusOK, toLetterResp(l))
}

func (h *Controller) getLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid letter id")
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "letter not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, toLetterResp(l))
}

type updateContentReq struct {
	HTMLContent          string `json:"html_content" validate:"required"`
	LocalizedHTMLContent string `json:"localized_html_content"`
}

func (h *Controller) updateContent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid letter id")
	}
	var req updateContentReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateContent(c.Request().Context(), id, req.HTMLContent, req.LocalizedHTMLContent); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "letter not found")
		case errors.Is(err, domain.ErrContentFrozen):
			return echo.NewHTTPError(http.StatusConflict, "letter content is frozen after delivery started")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

type updateContactReq struct {
	contactReq
	PhysicalMailOptIn bool `json:"physical_mail_opt_in"`
}

func (h *Controller) updateContact(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid letter id")
	}
	var req updateContactReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateContact(c.Request().Context(), id, c.Param("role"), req.toDomain(), req.PhysicalMailOptIn); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "letter not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type rejectReq struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Controller) rejectLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid letter id")
	}
	var req rejectReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Reject(c.Request().Context(), id, req.Reason); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "letter not found")
		case errors.Is(err, domain.ErrRejectedWithTracking):
			return echo.NewHTTPError(http.StatusConflict, "letter was already mailed")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

type verifyAddressReq struct {
	Name  string `json:"name"`
	Line1 string `json:"line1" validate:"required"`
	Line2 string `json:"line2"`
	City  string `json:"city" validate:"required"`
	State string `json:"state" validate:"required"`
	Zip   string `json:"zip" validate:"required"`
}

type verifyAddressResp struct {
	Line1          string `json:"line1"`
	Line2          string `json:"line2,omitempty"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	Deliverability string `json:"deliverability"`
}

// verifyAddress backs interactive address forms. Provider trouble degrades
// to "unknown" so the form never blocks on the provider.
func (h *Controller) verifyAddress(c echo.Context) error {
	var req verifyAddressReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v := h.verifier.VerifyAddressLenient(c.Request().Context(), certmail.AddressFields{
		Name:  req.Name,
		Line1: req.Line1,
		Line2: req.Line2,
		City:  req.City,
		State: req.State,
		Zip:   req.Zip,
	})
	return c.JSON(http.StatusOK, verifyAddressResp{
		Line1:          v.Normalized.Line1,
		Line2:          v.Normalized.Line2,
		City:           v.Normalized.City,
		State:          v.Normalized.State,
		Zip:            v.Normalized.Zip,
		Deliverability: string(v.Deliverability),
	})
}
