package letters

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/certmail"
	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	esvc "github.com/JustFixNYC/tenants2-sub000/internal/email/service"
	evsvc "github.com/JustFixNYC/tenants2-sub000/internal/events/service"
	ctrl "github.com/JustFixNYC/tenants2-sub000/internal/letters/controller"
	repo "github.com/JustFixNYC/tenants2-sub000/internal/letters/repository"
	svc "github.com/JustFixNYC/tenants2-sub000/internal/letters/service"
	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
	"github.com/JustFixNYC/tenants2-sub000/internal/pdf"
	"github.com/JustFixNYC/tenants2-sub000/internal/platform/ratelimit"
	"github.com/JustFixNYC/tenants2-sub000/internal/queue"
)

// Deps carries the shared infrastructure the letters module plugs into.
type Deps struct {
	Pool     *pgxpool.Pool
	Cfg      config.Config
	Log      zerolog.Logger
	Enqueuer queue.Enqueuer
	Limiter  ratelimit.Store
}

// Register wires the letters module and registers HTTP routes. It returns
// the orchestrator so batch processes can share the exact same delivery
// engine as the API.
func Register(e *echo.Echo, d Deps) (*svc.Orchestrator, *repo.Postgres) {
	r := repo.New(d.Pool)
	provider := certmail.New(d.Cfg, logger.Component(d.Log, "certmail"))
	composer := pdf.NewComposer(pdf.NewHTTPRenderer(d.Cfg))
	products := svc.DefaultRegistry()
	orch := svc.NewOrchestrator(
		r,
		composer,
		products,
		esvc.NewRouter(d.Cfg),
		provider,
		d.Enqueuer,
		evsvc.NewLogger(),
		d.Cfg,
		logger.Component(d.Log, "orchestrator"),
	)
	s := svc.NewService(r, products, orch, logger.Component(d.Log, "letters"))
	c := ctrl.New(s, provider, d.Limiter)
	c.Register(e)
	return orch, r
}
