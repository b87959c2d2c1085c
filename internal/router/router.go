package router

import (
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	mem "hospital-patient-access/internal/adapters/storage/memory"
	pg "hospital-patient-access/internal/adapters/storage/postgres"
	_ "hospital-patient-access/internal/docs"
	"hospital-patient-access/internal/domain/departmentaccess"
	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/domain/patientaccess"
	"hospital-patient-access/internal/domain/reports"
	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/platform/logger"
	"hospital-patient-access/internal/platform/mail"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	Logger  logger.Logger
	Mailer  mail.Sender        // nil => LogSender
	Limiter middleware.Limiter // nil => sin rate limit en verify/resend

	PendingTTL time.Duration
}

// App expone el handler y el servicio de acceso compartido (lo usa el job de expiración).
type App struct {
	Handler http.Handler
	Access  *patientaccess.Service
}

func NewRouter(opts Options) http.Handler {
	return New(opts).Handler
}

func New(opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	var (
		dirRepo      directory.Repository
		accessStore  patientaccess.Store
		referralRepo departmentaccess.ReferralRepository
		reportRepo   reports.Repository
	)

	// Si no te pasan DB explícita, intenta por env (para dev/handoff)
	db := opts.DB
	if db == nil {
		if dsn := os.Getenv("DB_DSN"); dsn != "" {
			opened, err := pg.Open(dsn)
			if err == nil {
				db = opened
			} else {
				log.Warn("postgres unavailable, using in-memory storage", map[string]any{"err": err})
			}
		}
	}

	if db != nil {
		dirRepo = pg.NewDirectoryRepo(db)
		accessStore = pg.NewPatientAccessStore(db)
		referralRepo = pg.NewReferralsRepo(db)
		reportRepo = pg.NewReportsRepo(db)
	} else {
		dirRepo = mem.NewDirectoryRepo()
		accessStore = mem.NewPatientAccessStore()
		referralRepo = mem.NewReferralRepo()
		reportRepo = mem.NewReportRepo()
	}

	mailer := opts.Mailer
	if mailer == nil {
		mailer = mail.NewLogSender(log)
	}

	// Services por módulo
	dirSvc := directory.NewService(dirRepo)

	var accessOpts []patientaccess.Option
	if opts.PendingTTL > 0 {
		accessOpts = append(accessOpts, patientaccess.WithPendingTTL(opts.PendingTTL))
	}
	accessSvc := patientaccess.NewService(
		accessStore,
		dirSvc,
		patientaccess.NewMailNotifier(mailer, dirSvc),
		log.With(map[string]any{"module": "patient-access"}),
		accessOpts...,
	)

	rule := departmentaccess.NewRule(dirSvc, referralRepo)
	referralSvc := departmentaccess.NewService(referralRepo, dirSvc)
	reportsSvc := reports.NewService(reportRepo)

	// Rutas por módulo
	directory.RegisterRoutes(r, dirSvc)
	patientaccess.RegisterRoutes(r, accessSvc, patientaccess.RouteOptions{
		CodeLimiter:   middleware.RateLimit(opts.Limiter, codeLimitKey, log),
		SharedReports: reports.SharedReportsHandler(reportsSvc, accessSvc),
	})
	departmentaccess.RegisterRoutes(r, referralSvc)
	reports.RegisterRoutes(r, reportsSvc, departmentaccess.RequireReportAccess(rule, log))

	return &App{Handler: r, Access: accessSvc}
}

// codeLimitKey: un bucket por (médico, solicitud).
func codeLimitKey(r *http.Request) string {
	claims, _ := middleware.GetClaims(r.Context())
	return strings.TrimSpace(claims.UserID) + ":" + chi.URLParam(r, "id")
}
