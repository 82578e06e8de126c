package leads

import (
	"testing"
	"time"
)

func TestValidateJID(t *testing.T) {
	cases := []struct {
		jid   string
		valid bool
	}{
		{"5537999990000@s.whatsapp.net", true},
		{"5537999990000", false},
		{"@s.whatsapp.net", false},
		{"", false},
		{"unknown", false},
		{"5537999990000@g.us", false},
	}
	for _, tc := range cases {
		err := ValidateJID(tc.jid)
		if tc.valid && err != nil {
			t.Errorf("ValidateJID(%q) = %v, want nil", tc.jid, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidateJID(%q) = nil, want error", tc.jid)
		}
	}
}

func TestPhoneFromJID(t *testing.T) {
	if got := PhoneFromJID("5537999990000@s.whatsapp.net"); got != "5537999990000" {
		t.Fatalf("PhoneFromJID = %q", got)
	}
}

func TestMergeKeepsExistingWhenPartialEmpty(t *testing.T) {
	registered := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	lead := Lead{
		RemoteJID:    "5537999990000@s.whatsapp.net",
		Name:         "Maria Souza",
		Email:        "maria@example.com",
		RegisteredAt: registered,
	}
	lead.Merge(Lead{City: "Divinópolis"})

	if lead.Name != "Maria Souza" {
		t.Errorf("name overwritten: %q", lead.Name)
	}
	if lead.City != "Divinópolis" {
		t.Errorf("city not merged: %q", lead.City)
	}
	if !lead.RegisteredAt.Equal(registered) {
		t.Errorf("registration timestamp changed: %v", lead.RegisteredAt)
	}
}

func TestMergeOverwritesWithNonZero(t *testing.T) {
	lead := Lead{RemoteJID: "5537999990000@s.whatsapp.net", Doctor: "Dr. A"}
	lead.Merge(Lead{Doctor: "Dr. B", CPFCNPJ: "12345678901"})
	if lead.Doctor != "Dr. B" {
		t.Errorf("doctor = %q, want Dr. B", lead.Doctor)
	}
	if lead.CPFCNPJ != "12345678901" {
		t.Errorf("cpf = %q", lead.CPFCNPJ)
	}
}

func TestMergeRejectsUnknownPaymentStatus(t *testing.T) {
	lead := Lead{PaymentStatus: PaymentPending}
	lead.Merge(Lead{PaymentStatus: "estornado"})
	if lead.PaymentStatus != PaymentPending {
		t.Fatalf("payment status = %q, want %q", lead.PaymentStatus, PaymentPending)
	}
	lead.Merge(Lead{PaymentStatus: PaymentPaid})
	if lead.PaymentStatus != PaymentPaid {
		t.Fatalf("payment status = %q, want %q", lead.PaymentStatus, PaymentPaid)
	}
}
