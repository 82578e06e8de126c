package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestPostgresUpsertInsertsNewLead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	repo.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	mock.ExpectQuery("SELECT").
		WithArgs(testJID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO leads").
		WithArgs(
			testJID, "Maria Souza", nil, "5537999990000", nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			(*time.Time)(nil), pgxmock.AnyArg(), nil, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lead, err := repo.Upsert(context.Background(), testJID, Lead{Name: "Maria Souza"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if lead.Phone != "5537999990000" {
		t.Errorf("phone = %q", lead.Phone)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectQuery("SELECT").
		WithArgs(testJID).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.Get(context.Background(), testJID); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("err = %v, want ErrLeadNotFound", err)
	}
}

func TestPostgresUpsertMergesExistingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	registered := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"remotejid", "nome_cliente", "pushname", "telefone", "cidade", "estado",
		"email", "cep", "data_nascimento", "cpf_cnpj", "thread_id", "clinic_id",
		"klingo_client_id", "klingo_access_key", "asaas_customer_id",
		"payment_status", "consulta_type", "medico", "appointment_id",
		"appointment_datetime", "data_cadastro", "ult_contato",
		"data_ultima_alteracao",
	}).AddRow(
		testJID, "Maria Souza", nil, "5537999990000", nil, nil,
		nil, nil, nil, nil, "thread_abc", nil,
		nil, nil, nil,
		nil, nil, nil, nil,
		(*time.Time)(nil), registered, time.Time{},
		registered,
	)
	mock.ExpectQuery("SELECT").WithArgs(testJID).WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO leads").WithArgs(
		testJID, "Maria Souza", nil, "5537999990000", nil, nil,
		nil, nil, nil, "12345678901", "thread_abc", nil,
		nil, nil, nil,
		nil, nil, nil, nil,
		(*time.Time)(nil), registered, nil,
		pgxmock.AnyArg(),
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lead, err := repo.Upsert(context.Background(), testJID, Lead{CPFCNPJ: "12345678901"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if lead.Name != "Maria Souza" || lead.ThreadID != "thread_abc" {
		t.Errorf("existing fields dropped: %+v", lead)
	}
	if lead.CPFCNPJ != "12345678901" {
		t.Errorf("cpf not merged: %q", lead.CPFCNPJ)
	}
	if !lead.RegisteredAt.Equal(registered) {
		t.Errorf("registration timestamp changed: %v", lead.RegisteredAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
