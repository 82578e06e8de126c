package catalog

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestSearchReturnsMatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "name", "description", "price_cents", "klingo_exam_id"}).
		AddRow("1", "Consulta oftalmológica", "Avaliação completa", int64(15000), "1376").
		AddRow("2", "Consulta de retorno", nil, int64(0), nil)
	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("consulta").
		WillReturnRows(rows)

	store := NewStore(mock)
	procedures, err := store.Search(context.Background(), "consulta")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(procedures) != 2 {
		t.Fatalf("procedures = %+v", procedures)
	}
	if procedures[0].KlingoExamID != "1376" {
		t.Errorf("exam id = %q", procedures[0].KlingoExamID)
	}
	if procedures[1].Description != "" {
		t.Errorf("null description = %q", procedures[1].Description)
	}
}

func TestSearchNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("botox").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "price_cents", "klingo_exam_id"}))

	store := NewStore(mock)
	if _, err := store.Search(context.Background(), "botox"); !errors.Is(err, ErrProcedureNotFound) {
		t.Fatalf("err = %v, want ErrProcedureNotFound", err)
	}
}

func TestPriceReais(t *testing.T) {
	p := Procedure{PriceCents: 15050}
	if got := p.PriceReais(); got != "R$ 150,50" {
		t.Errorf("price = %q", got)
	}
}
