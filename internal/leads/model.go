package leads

import (
	"strings"
	"time"
)

// JIDSuffix is the suffix every WhatsApp user handle must carry.
const JIDSuffix = "@s.whatsapp.net"

// Payment status vocabulary persisted on the lead.
const (
	PaymentPending   = "pendente"
	PaymentPaid      = "pago"
	PaymentCancelled = "cancelado"
)

// Lead is the persisted record of a single end-user's identity and
// conversation/appointment progress. Rows are only ever upserted, never
// deleted; fields fill in progressively as the conversation advances.
type Lead struct {
	RemoteJID       string `json:"remotejid"`
	Name            string `json:"nome_cliente,omitempty"`
	PushName        string `json:"pushname,omitempty"`
	Phone           string `json:"telefone,omitempty"`
	City            string `json:"cidade,omitempty"`
	State           string `json:"estado,omitempty"`
	Email           string `json:"email,omitempty"`
	CEP             string `json:"cep,omitempty"`
	BirthDate       string `json:"data_nascimento,omitempty"` // YYYY-MM-DD
	CPFCNPJ         string `json:"cpf_cnpj,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	ClinicID        string `json:"clinic_id,omitempty"`
	KlingoClientID  string `json:"klingo_client_id,omitempty"`
	KlingoAccessKey string `json:"klingo_access_key,omitempty"`
	AsaasCustomerID string `json:"asaas_customer_id,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	ConsultaType    string `json:"consulta_type,omitempty"`
	Doctor          string `json:"medico,omitempty"`
	AppointmentID   string `json:"appointment_id,omitempty"`

	AppointmentDatetime *time.Time `json:"appointment_datetime,omitempty"`
	RegisteredAt        time.Time  `json:"data_cadastro,omitempty"`
	LastContactAt       time.Time  `json:"ult_contato,omitempty"`
	UpdatedAt           time.Time  `json:"data_ultima_alteracao,omitempty"`
}

// ValidateJID checks the basic shape of a WhatsApp user handle so a garbage
// sender never gets a session created for it.
func ValidateJID(remoteJID string) error {
	trimmed := strings.TrimSpace(remoteJID)
	if trimmed == "" || trimmed == "unknown" {
		return ErrInvalidJID
	}
	if !strings.HasSuffix(trimmed, JIDSuffix) {
		return ErrInvalidJID
	}
	if strings.TrimSuffix(trimmed, JIDSuffix) == "" {
		return ErrInvalidJID
	}
	return nil
}

// PhoneFromJID derives the bare phone number from a user handle.
func PhoneFromJID(remoteJID string) string {
	return strings.TrimSuffix(remoteJID, JIDSuffix)
}

// ValidPaymentStatus reports whether s belongs to the persisted vocabulary.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentCancelled:
		return true
	}
	return false
}

// Merge copies every non-zero field of partial onto l. The remotejid and the
// registration timestamp are immutable once set.
func (l *Lead) Merge(partial Lead) {
	if l.RemoteJID == "" {
		l.RemoteJID = partial.RemoteJID
	}
	setIfNotEmpty(&l.Name, partial.Name)
	setIfNotEmpty(&l.PushName, partial.PushName)
	setIfNotEmpty(&l.Phone, partial.Phone)
	setIfNotEmpty(&l.City, partial.City)
	setIfNotEmpty(&l.State, partial.State)
	setIfNotEmpty(&l.Email, partial.Email)
	setIfNotEmpty(&l.CEP, partial.CEP)
	setIfNotEmpty(&l.BirthDate, partial.BirthDate)
	setIfNotEmpty(&l.CPFCNPJ, partial.CPFCNPJ)
	setIfNotEmpty(&l.ThreadID, partial.ThreadID)
	setIfNotEmpty(&l.ClinicID, partial.ClinicID)
	setIfNotEmpty(&l.KlingoClientID, partial.KlingoClientID)
	setIfNotEmpty(&l.KlingoAccessKey, partial.KlingoAccessKey)
	setIfNotEmpty(&l.AsaasCustomerID, partial.AsaasCustomerID)
	setIfNotEmpty(&l.ConsultaType, partial.ConsultaType)
	setIfNotEmpty(&l.Doctor, partial.Doctor)
	setIfNotEmpty(&l.AppointmentID, partial.AppointmentID)
	if ValidPaymentStatus(partial.PaymentStatus) {
		l.PaymentStatus = partial.PaymentStatus
	}
	if partial.AppointmentDatetime != nil {
		t := *partial.AppointmentDatetime
		l.AppointmentDatetime = &t
	}
	if l.RegisteredAt.IsZero() && !partial.RegisteredAt.IsZero() {
		l.RegisteredAt = partial.RegisteredAt
	}
	if !partial.LastContactAt.IsZero() {
		l.LastContactAt = partial.LastContactAt
	}
}

func setIfNotEmpty(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}
