package leads

import "testing"

func TestExtractFromText(t *testing.T) {
	text := "Nome: Maria Souza, cidade: Divinópolis, estado: MG\n" +
		"meu email é maria.souza@example.com e o cpf 123.456.789-01, nascida em 15/03/1990"
	partial := ExtractFromText(text)

	if partial.Name != "Maria Souza" {
		t.Errorf("name = %q", partial.Name)
	}
	if partial.City != "Divinópolis" {
		t.Errorf("city = %q", partial.City)
	}
	if partial.State != "MG" {
		t.Errorf("state = %q", partial.State)
	}
	if partial.Email != "maria.souza@example.com" {
		t.Errorf("email = %q", partial.Email)
	}
	if partial.CPFCNPJ != "12345678901" {
		t.Errorf("cpf = %q", partial.CPFCNPJ)
	}
	if partial.BirthDate != "1990-03-15" {
		t.Errorf("birth date = %q", partial.BirthDate)
	}
}

func TestExtractCEP(t *testing.T) {
	partial := ExtractFromText("moro no cep 35500-000")
	if partial.CEP != "35500-000" {
		t.Errorf("cep = %q", partial.CEP)
	}
}

func TestExtractRejectsImpossibleDate(t *testing.T) {
	partial := ExtractFromText("nasci em 31/02/1990")
	if partial.BirthDate != "" {
		t.Errorf("birth date = %q, want empty", partial.BirthDate)
	}
}

func TestExtractEmptyText(t *testing.T) {
	partial := ExtractFromText("oi, tudo bem?")
	if partial != (Lead{}) {
		t.Errorf("partial = %+v, want zero", partial)
	}
}
