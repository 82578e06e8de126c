package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/saluslabs/clinic-assistant/internal/leads"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

type recordingGateway struct {
	mu    sync.Mutex
	texts []string
	to    []string
	fail  map[string]error
}

func (g *recordingGateway) SendText(_ context.Context, number, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.fail[number]; ok {
		return err
	}
	g.to = append(g.to, number)
	g.texts = append(g.texts, text)
	return nil
}

func (g *recordingGateway) SendAudio(_ context.Context, _, _ string) error { return nil }

func (g *recordingGateway) SendImage(_ context.Context, _, _, _ string) error { return nil }

func newTestWorker(t *testing.T, gateway *recordingGateway) (*Worker, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	worker, err := New(mock, gateway, Config{
		Hour:       8,
		Timezone:   "America/Sao_Paulo",
		ClinicName: "Clínica Salus",
	}, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	worker.now = func() time.Time {
		return time.Date(2026, 8, 28, 8, 0, 0, 0, worker.loc)
	}
	return worker, mock
}

func dueRows(t *testing.T, worker *Worker) *pgxmock.Rows {
	t.Helper()
	when := time.Date(2026, 8, 29, 9, 0, 0, 0, worker.loc)
	return pgxmock.NewRows([]string{"remotejid", "nome_cliente", "medico", "appointment_datetime"}).
		AddRow("5537999990000@s.whatsapp.net", "Maria Souza", "Dra. Carla Souza", when).
		AddRow("5537988880000@s.whatsapp.net", "João Lima", "Dra. Carla Souza", when.Add(2*time.Hour))
}

func TestSendDueRemindsTomorrowsPaidAppointments(t *testing.T) {
	gateway := &recordingGateway{}
	worker, mock := newTestWorker(t, gateway)

	dayStart := time.Date(2026, 8, 29, 0, 0, 0, 0, worker.loc)
	mock.ExpectQuery("SELECT remotejid").
		WithArgs(leads.PaymentPaid, dayStart, dayStart.AddDate(0, 0, 1)).
		WillReturnRows(dueRows(t, worker))

	sent, err := worker.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if gateway.to[0] != "5537999990000" || gateway.to[1] != "5537988880000" {
		t.Fatalf("recipients = %v", gateway.to)
	}
	first := gateway.texts[0]
	for _, want := range []string{"Maria Souza", "29/08", "09:00", "Dra. Carla Souza", "Clínica Salus"} {
		if !strings.Contains(first, want) {
			t.Fatalf("reminder %q missing %q", first, want)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSendDueSkipsFailedSends(t *testing.T) {
	gateway := &recordingGateway{fail: map[string]error{
		"5537999990000": errors.New("number unreachable"),
	}}
	worker, mock := newTestWorker(t, gateway)

	mock.ExpectQuery("SELECT remotejid").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(dueRows(t, worker))

	sent, err := worker.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 despite one failure", sent)
	}
	if len(gateway.to) != 1 || gateway.to[0] != "5537988880000" {
		t.Fatalf("recipients = %v", gateway.to)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSendDueHandlesNullNameAndDoctor(t *testing.T) {
	gateway := &recordingGateway{}
	worker, mock := newTestWorker(t, gateway)

	when := time.Date(2026, 8, 29, 9, 0, 0, 0, worker.loc)
	rows := pgxmock.NewRows([]string{"remotejid", "nome_cliente", "medico", "appointment_datetime"}).
		AddRow("5537999990000@s.whatsapp.net", nil, nil, when)
	mock.ExpectQuery("SELECT remotejid").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)

	sent, err := worker.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	text := gateway.texts[0]
	if !strings.HasPrefix(text, "Olá,") {
		t.Fatalf("reminder without a name should open with the greeting, got %q", text)
	}
	if strings.Contains(text, " com ") {
		t.Fatalf("reminder without a doctor should skip the doctor clause, got %q", text)
	}
}

func TestSendDueQueryError(t *testing.T) {
	worker, mock := newTestWorker(t, &recordingGateway{})
	mock.ExpectQuery("SELECT remotejid").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("db down"))

	if _, err := worker.SendDue(context.Background()); err == nil {
		t.Fatal("expected an error when the query fails")
	}
}

func TestNextRunRollsToTomorrow(t *testing.T) {
	worker, _ := newTestWorker(t, &recordingGateway{})
	worker.now = func() time.Time {
		return time.Date(2026, 8, 28, 9, 30, 0, 0, worker.loc)
	}
	next := worker.nextRun()
	want := time.Date(2026, 8, 29, 8, 0, 0, 0, worker.loc)
	if !next.Equal(want) {
		t.Fatalf("next run = %v, want %v", next, want)
	}

	worker.now = func() time.Time {
		return time.Date(2026, 8, 28, 6, 0, 0, 0, worker.loc)
	}
	next = worker.nextRun()
	want = time.Date(2026, 8, 28, 8, 0, 0, 0, worker.loc)
	if !next.Equal(want) {
		t.Fatalf("next run = %v, want %v", next, want)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if _, err := New(mock, &recordingGateway{}, Config{Hour: 25}, nil, nil); err == nil {
		t.Fatal("expected an error for an out-of-range hour")
	}
	if _, err := New(nil, &recordingGateway{}, Config{Hour: 8}, nil, nil); err == nil {
		t.Fatal("expected an error for a nil pool")
	}
	if _, err := New(mock, &recordingGateway{}, Config{Hour: 8, Timezone: "Mars/Olympus"}, nil, nil); err == nil {
		t.Fatal("expected an error for a bad timezone")
	}
}
