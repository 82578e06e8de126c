// Package reminders sends next-day appointment reminders over WhatsApp.
package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/leads"
	"github.com/saluslabs/clinic-assistant/internal/messaging"
	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// Config controls when and on whose behalf reminders go out.
type Config struct {
	// Hour is the local hour of day the daily run fires at.
	Hour     int
	Timezone string
	// ClinicName appears in the reminder text.
	ClinicName string
}

// Worker wakes up once a day and reminds every patient with a paid
// appointment scheduled for the following day.
type Worker struct {
	pool    leads.PgxPool
	gateway messaging.Gateway
	cfg     Config
	loc     *time.Location
	metrics *metrics.AssistantMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func New(pool leads.PgxPool, gateway messaging.Gateway, cfg Config, m *metrics.AssistantMetrics, logger *logging.Logger) (*Worker, error) {
	if pool == nil || gateway == nil {
		return nil, fmt.Errorf("reminders: pool and gateway are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Sao_Paulo"
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		return nil, fmt.Errorf("reminders: hour %d out of range", cfg.Hour)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reminders: load timezone %q: %w", cfg.Timezone, err)
	}
	return &Worker{
		pool:    pool,
		gateway: gateway,
		cfg:     cfg,
		loc:     loc,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run blocks until ctx is cancelled, firing one batch per day at the
// configured local hour.
func (w *Worker) Run(ctx context.Context) error {
	for {
		next := w.nextRun()
		w.logger.Info("reminder run scheduled", "at", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		sent, err := w.SendDue(ctx)
		if err != nil {
			w.logger.Error("reminder run failed", "error", err)
			continue
		}
		w.logger.Info("reminder run completed", "sent", sent)
	}
}

func (w *Worker) nextRun() time.Time {
	now := w.now().In(w.loc)
	run := time.Date(now.Year(), now.Month(), now.Day(), w.cfg.Hour, 0, 0, 0, w.loc)
	if !run.After(now) {
		run = run.AddDate(0, 0, 1)
	}
	return run
}

// reminder is one row due for a nudge.
type reminder struct {
	remoteJID string
	name      string
	doctor    string
	when      time.Time
}

// SendDue sends reminders for every paid appointment happening tomorrow in
// the clinic timezone. A failed send is logged and skipped so one broken
// number never blocks the batch.
func (w *Worker) SendDue(ctx context.Context) (int, error) {
	now := w.now().In(w.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, w.loc).AddDate(0, 0, 1)
	dayEnd := dayStart.AddDate(0, 0, 1)

	query := `SELECT remotejid, nome_cliente, medico, appointment_datetime
		FROM leads
		WHERE payment_status = $1
		  AND appointment_datetime >= $2
		  AND appointment_datetime < $3`
	rows, err := w.pool.Query(ctx, query, leads.PaymentPaid, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("reminders: query due appointments: %w", err)
	}
	defer rows.Close()

	var due []reminder
	for rows.Next() {
		var (
			r      reminder
			name   sql.NullString
			doctor sql.NullString
		)
		if err := rows.Scan(&r.remoteJID, &name, &doctor, &r.when); err != nil {
			return 0, fmt.Errorf("reminders: scan row: %w", err)
		}
		r.name = name.String
		r.doctor = doctor.String
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reminders: iterate rows: %w", err)
	}

	sent := 0
	for _, r := range due {
		if err := w.gateway.SendText(ctx, leads.PhoneFromJID(r.remoteJID), w.message(r)); err != nil {
			w.logger.Error("reminder send failed", "error", err, "remotejid", r.remoteJID)
			w.metrics.ObserveOutbound("reminder", "error")
			continue
		}
		w.metrics.ObserveOutbound("reminder", "sent")
		sent++
	}
	return sent, nil
}

func (w *Worker) message(r reminder) string {
	when := r.when.In(w.loc)
	name := r.name
	if name == "" {
		name = "Olá"
	}
	text := fmt.Sprintf("%s, lembrete da sua consulta amanhã, %s às %s",
		name, when.Format("02/01"), when.Format("15:04"))
	if r.doctor != "" {
		text += " com " + r.doctor
	}
	if w.cfg.ClinicName != "" {
		text += ", na " + w.cfg.ClinicName
	}
	return text + ". Até lá!"
}
