package jobs

import (
	"context"
	"fmt"
	"time"

	"hospital-patient-access/internal/domain/patientaccess"
	"hospital-patient-access/internal/platform/logger"

	"github.com/robfig/cron/v3"
)

// Expirer es el lado del servicio que corre el sweep.
type Expirer interface {
	ExpireOldAccess(ctx context.Context) (patientaccess.SweepReport, error)
}

// Sweeper agenda ExpireOldAccess con cron. Una corrida no se solapa con la anterior.
type Sweeper struct {
	cron    *cron.Cron
	exp     Expirer
	log     logger.Logger
	timeout time.Duration
}

func NewSweeper(exp Expirer, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(map[string]any{"component": "sweeper"})
	cl := cronLogger{log: log}

	return &Sweeper{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		exp:     exp,
		log:     log,
		timeout: time.Minute,
	}
}

// Start registra el job y arranca el scheduler en su propia goroutine.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("sweeper started", map[string]any{"schedule": schedule})
	return nil
}

// Stop frena el scheduler; el contexto devuelto se cierra cuando termina la corrida en curso.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) RunOnce(ctx context.Context) (patientaccess.SweepReport, error) {
	start := time.Now()
	rep, err := s.exp.ExpireOldAccess(ctx)
	if err != nil {
		s.log.Error("sweep failed", map[string]any{"err": err})
		return patientaccess.SweepReport{}, err
	}
	s.log.Debug("sweep done", map[string]any{
		"grants_expired":   rep.GrantsExpired,
		"requests_expired": rep.RequestsExpired,
		"latency_ms":       time.Since(start).Milliseconds(),
	})
	return rep, nil
}

// cronLogger adapta logger.Logger a cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["err"] = err
	l.log.Error("cron: "+msg, fields)
}

func kvFields(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
