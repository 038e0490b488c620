package service

import (
	"context"
	"strings"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	edomain "github.com/JustFixNYC/tenants2-sub000/internal/email/domain"
)

// Ensure Router implements domain.Sender
var _ edomain.Sender = (*Router)(nil)

// Router picks the configured transport per message.
type Router struct {
	cfg   config.Config
	smtp  edomain.Sender
	brevo edomain.Sender
}

func NewRouter(cfg config.Config) *Router {
	return &Router{cfg: cfg, smtp: NewSMTP(cfg), brevo: NewBrevo(cfg)}
}

func (r *Router) Send(ctx context.Context, msg edomain.Message) error {
	switch strings.ToLower(r.cfg.EmailProvider) {
	case "brevo":
		return r.brevo.Send(ctx, msg)
	default:
		return r.smtp.Send(ctx, msg)
	}
}
