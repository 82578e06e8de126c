package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the slice of pgxpool.Pool the repository needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database, one row per
// remotejid.
type PostgresRepository struct {
	pool PgxPool
	now  func() time.Time
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool, now: time.Now}
}

const leadColumns = `
	remotejid, nome_cliente, pushname, telefone, cidade, estado, email, cep,
	data_nascimento, cpf_cnpj, thread_id, clinic_id, klingo_client_id,
	klingo_access_key, asaas_customer_id, payment_status, consulta_type,
	medico, appointment_id, appointment_datetime, data_cadastro,
	ult_contato, data_ultima_alteracao
`

// Upsert merges partial into the stored row for remoteJID, inserting it on
// first contact.
func (r *PostgresRepository) Upsert(ctx context.Context, remoteJID string, partial Lead) (*Lead, error) {
	if err := ValidateJID(remoteJID); err != nil {
		return nil, err
	}

	lead, err := r.Get(ctx, remoteJID)
	if errors.Is(err, ErrLeadNotFound) {
		lead = &Lead{
			RemoteJID:    remoteJID,
			Phone:        PhoneFromJID(remoteJID),
			RegisteredAt: r.now().UTC(),
		}
	} else if err != nil {
		return nil, err
	}
	lead.Merge(partial)
	lead.UpdatedAt = r.now().UTC()

	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (remotejid) DO UPDATE SET
			nome_cliente = EXCLUDED.nome_cliente,
			pushname = EXCLUDED.pushname,
			telefone = EXCLUDED.telefone,
			cidade = EXCLUDED.cidade,
			estado = EXCLUDED.estado,
			email = EXCLUDED.email,
			cep = EXCLUDED.cep,
			data_nascimento = EXCLUDED.data_nascimento,
			cpf_cnpj = EXCLUDED.cpf_cnpj,
			thread_id = EXCLUDED.thread_id,
			clinic_id = EXCLUDED.clinic_id,
			klingo_client_id = EXCLUDED.klingo_client_id,
			klingo_access_key = EXCLUDED.klingo_access_key,
			asaas_customer_id = EXCLUDED.asaas_customer_id,
			payment_status = EXCLUDED.payment_status,
			consulta_type = EXCLUDED.consulta_type,
			medico = EXCLUDED.medico,
			appointment_id = EXCLUDED.appointment_id,
			appointment_datetime = EXCLUDED.appointment_datetime,
			ult_contato = EXCLUDED.ult_contato,
			data_ultima_alteracao = EXCLUDED.data_ultima_alteracao
	`
	if _, err := r.pool.Exec(ctx, query,
		lead.RemoteJID,
		nullable(lead.Name),
		nullable(lead.PushName),
		nullable(lead.Phone),
		nullable(lead.City),
		nullable(lead.State),
		nullable(lead.Email),
		nullable(lead.CEP),
		nullable(lead.BirthDate),
		nullable(lead.CPFCNPJ),
		nullable(lead.ThreadID),
		nullable(lead.ClinicID),
		nullable(lead.KlingoClientID),
		nullable(lead.KlingoAccessKey),
		nullable(lead.AsaasCustomerID),
		nullable(lead.PaymentStatus),
		nullable(lead.ConsultaType),
		nullable(lead.Doctor),
		nullable(lead.AppointmentID),
		lead.AppointmentDatetime,
		lead.RegisteredAt,
		nullableTime(lead.LastContactAt),
		lead.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("leads: upsert failed: %w", err)
	}
	return lead, nil
}

// Get fetches a lead by remotejid.
func (r *PostgresRepository) Get(ctx context.Context, remoteJID string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE remotejid = $1`
	row := r.pool.QueryRow(ctx, query, remoteJID)

	var (
		lead            Lead
		name            sql.NullString
		pushName        sql.NullString
		phone           sql.NullString
		city            sql.NullString
		state           sql.NullString
		email           sql.NullString
		cep             sql.NullString
		birthDate       sql.NullString
		cpfCNPJ         sql.NullString
		threadID        sql.NullString
		clinicID        sql.NullString
		klingoClientID  sql.NullString
		klingoAccessKey sql.NullString
		asaasCustomerID sql.NullString
		paymentStatus   sql.NullString
		consultaType    sql.NullString
		doctor          sql.NullString
		appointmentID   sql.NullString
		lastContact     sql.NullTime
	)
	if err := row.Scan(
		&lead.RemoteJID,
		&name,
		&pushName,
		&phone,
		&city,
		&state,
		&email,
		&cep,
		&birthDate,
		&cpfCNPJ,
		&threadID,
		&clinicID,
		&klingoClientID,
		&klingoAccessKey,
		&asaasCustomerID,
		&paymentStatus,
		&consultaType,
		&doctor,
		&appointmentID,
		&lead.AppointmentDatetime,
		&lead.RegisteredAt,
		&lastContact,
		&lead.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}

	lead.Name = name.String
	lead.PushName = pushName.String
	lead.Phone = phone.String
	lead.City = city.String
	lead.State = state.String
	lead.Email = email.String
	lead.CEP = cep.String
	lead.BirthDate = birthDate.String
	lead.CPFCNPJ = cpfCNPJ.String
	lead.ThreadID = threadID.String
	lead.ClinicID = clinicID.String
	lead.KlingoClientID = klingoClientID.String
	lead.KlingoAccessKey = klingoAccessKey.String
	lead.AsaasCustomerID = asaasCustomerID.String
	lead.PaymentStatus = paymentStatus.String
	lead.ConsultaType = consultaType.String
	lead.Doctor = doctor.String
	lead.AppointmentID = appointmentID.String
	if lastContact.Valid {
		lead.LastContactAt = lastContact.Time
	}
	return &lead, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
