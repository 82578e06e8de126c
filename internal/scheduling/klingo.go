// Package scheduling talks to the Klingo practice-management API: agenda
// lookup, patient identification, registration, login and booking.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/retry"
)

const defaultBaseURL = "https://api-externa.klingo.app/api"

var (
	// ErrPatientNotFound indicates no patient matches the phone/birth date.
	ErrPatientNotFound = errors.New("scheduling: patient not found")

	// ErrNoAvailability indicates the agenda has no open slots in the window.
	ErrNoAvailability = errors.New("scheduling: no availability")

	phonePattern     = regexp.MustCompile(`^\d{10,11}$`)
	birthDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Config controls how the Klingo client behaves.
type Config struct {
	BaseURL    string
	AppToken   string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client wraps the Klingo endpoints the assistant needs.
type Client struct {
	baseURL    string
	appToken   string
	httpClient *http.Client
	retry      retry.Policy
	logger     *slog.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AppToken) == "" {
		return nil, errors.New("scheduling: app token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		appToken:   cfg.AppToken,
		httpClient: httpClient,
		retry:      policy,
		logger:     logger,
	}, nil
}

// SlotOption is one bookable time on a given date.
type SlotOption struct {
	SlotID string `json:"slot_id"`
	Time   string `json:"time"`
}

// DoctorAgenda is the availability of a single professional, at most three
// dates with at most three times each so the options fit a chat message.
type DoctorAgenda struct {
	DoctorID     string                  `json:"doctor_id"`
	DoctorName   string                  `json:"doctor_name"`
	DoctorNumber int                     `json:"doctor_number"`
	Dates        []string                `json:"dates"`
	Times        map[string][]SlotOption `json:"times"`
}

// ScheduleRequest selects the agenda window to query.
type ScheduleRequest struct {
	SpecialtyID string
	ExamID      string
	PlanID      string
	Start       time.Time
	End         time.Time
	// DoctorID restricts the result to one professional when set.
	DoctorID string
}

// Patient is an identified or authenticated Klingo patient.
type Patient struct {
	ID          string
	Name        string
	Unit        string
	AccessToken string
	TokenType   string
}

// Registration carries the data needed to create a patient.
type Registration struct {
	Name      string
	Gender    string // "M" or "F"
	BirthDate string // YYYY-MM-DD
	Phone     string
	Email     string
}

// BookingRequest books a specific slot for an authenticated patient.
type BookingRequest struct {
	AccessToken  string
	SlotID       string
	ProcedureID  string
	DoctorID     string
	DoctorName   string
	DoctorNumber int
	DoctorUF     string
	Email        string
}

// Schedule fetches open slots for the requested window, grouped by doctor.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) ([]DoctorAgenda, error) {
	q := url.Values{}
	q.Set("especialidade", req.SpecialtyID)
	q.Set("exame", req.ExamID)
	q.Set("inicio", req.Start.Format("2006-01-02"))
	q.Set("fim", req.End.Format("2006-01-02"))
	q.Set("plano", req.PlanID)

	data, err := c.invoke(ctx, http.MethodGet, "/agenda/horarios?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Horarios []struct {
			Data         string            `json:"data"`
			Profissional struct {
				ID   json.Number `json:"id"`
				Nome string      `json:"nome"`
			} `json:"profissional"`
			Horarios map[string]string `json:"horarios"`
		} `json:"horarios"`
		Profissionais []struct {
			ID     json.Number `json:"id"`
			Nome   string      `json:"nome"`
			Numero int         `json:"numero"`
		} `json:"profissionais"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("scheduling: decode agenda: %w", err)
	}
	if len(payload.Horarios) == 0 || len(payload.Profissionais) == 0 {
		return nil, ErrNoAvailability
	}

	numbers := make(map[string]int, len(payload.Profissionais))
	var doctorOrder []string
	for _, p := range payload.Profissionais {
		id := p.ID.String()
		numbers[id] = p.Numero
		if req.DoctorID == "" && len(doctorOrder) < 3 {
			doctorOrder = append(doctorOrder, id)
		}
	}
	if req.DoctorID != "" {
		doctorOrder = []string{req.DoctorID}
	}

	byDoctor := make(map[string]*DoctorAgenda)
	for _, h := range payload.Horarios {
		id := h.Profissional.ID.String()
		if !contains(doctorOrder, id) {
			continue
		}
		agenda, ok := byDoctor[id]
		if !ok {
			agenda = &DoctorAgenda{
				DoctorID:     id,
				DoctorName:   h.Profissional.Nome,
				DoctorNumber: numbers[id],
				Times:        make(map[string][]SlotOption),
			}
			byDoctor[id] = agenda
		}
		if len(agenda.Dates) >= 3 {
			continue
		}
		slots := make([]SlotOption, 0, len(h.Horarios))
		for slotID, t := range h.Horarios {
			slots = append(slots, SlotOption{SlotID: slotID, Time: t})
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
		if len(slots) > 3 {
			slots = slots[:3]
		}
		agenda.Dates = append(agenda.Dates, h.Data)
		agenda.Times[h.Data] = slots
	}

	var out []DoctorAgenda
	for _, id := range doctorOrder {
		if agenda, ok := byDoctor[id]; ok {
			sort.Strings(agenda.Dates)
			out = append(out, *agenda)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAvailability
	}
	return out, nil
}

// Identify looks a patient up by phone and optional birth date.
func (c *Client) Identify(ctx context.Context, phone, birthDate string) (*Patient, error) {
	if !phonePattern.MatchString(phone) {
		return nil, fmt.Errorf("scheduling: invalid phone %q", phone)
	}
	payload := map[string]string{"telefone": phone}
	if birthDate != "" {
		if !birthDatePattern.MatchString(birthDate) {
			return nil, fmt.Errorf("scheduling: invalid birth date %q", birthDate)
		}
		payload["dt_nascimento"] = birthDate
	}
	body, _ := json.Marshal(payload)

	data, err := c.invoke(ctx, http.MethodPost, "/paciente/identificar", body, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	var resp struct {
		User struct {
			ID   json.Number `json:"id"`
			Nome string      `json:"nome"`
		} `json:"user"`
		Unidade struct {
			Nome string `json:"nome"`
		} `json:"unidade"`
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("scheduling: decode identification: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, ErrPatientNotFound
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Patient{
		ID:          resp.User.ID.String(),
		Name:        resp.User.Nome,
		Unit:        resp.Unidade.Nome,
		AccessToken: resp.AccessToken,
		TokenType:   tokenType,
	}, nil
}

// Register creates a new patient and returns the register id used for login.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	if strings.TrimSpace(reg.Name) == "" {
		return "", errors.New("scheduling: name is required")
	}
	if reg.Gender != "M" && reg.Gender != "F" {
		return "", fmt.Errorf("scheduling: invalid gender %q", reg.Gender)
	}
	if !birthDatePattern.MatchString(reg.BirthDate) {
		return "", fmt.Errorf("scheduling: invalid birth date %q", reg.BirthDate)
	}
	if !phonePattern.MatchString(reg.Phone) {
		return "", fmt.Errorf("scheduling: invalid phone %q", reg.Phone)
	}

	contatos := map[string]string{
		"celular":  reg.Phone,
		"telefone": reg.Phone,
	}
	if reg.Email != "" {
		contatos["email"] = reg.Email
	}
	body, _ := json.Marshal(map[string]any{
		"paciente": map[string]any{
			"nome":     reg.Name,
			"sexo":     reg.Gender,
			"dt_nasc":  reg.BirthDate,
			"contatos": contatos,
		},
	})

	data, err := c.invoke(ctx, http.MethodPost, "/externo/register", body, "")
	if err != nil {
		return "", err
	}
	id, err := firstID(data)
	if err != nil {
		return "", fmt.Errorf("scheduling: decode registration: %w", err)
	}
	return id, nil
}

// Login exchanges a register id for a patient access token.
func (c *Client) Login(ctx context.Context, registerID string) (*Patient, error) {
	if strings.TrimSpace(registerID) == "" {
		return nil, errors.New("scheduling: register id is required")
	}
	body, _ := json.Marshal(map[string]string{"id": registerID})

	data, err := c.invoke(ctx, http.MethodPost, "/externo/login", body, "")
	if err != nil {
		return nil, err
	}

	type login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	var single login
	if err := json.Unmarshal(data, &single); err != nil || single.AccessToken == "" {
		var many []login
		if err := json.Unmarshal(data, &many); err != nil || len(many) == 0 || many[0].AccessToken == "" {
			return nil, errors.New("scheduling: login response without access token")
		}
		single = many[0]
	}
	tokenType := single.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Patient{ID: registerID, AccessToken: single.AccessToken, TokenType: tokenType}, nil
}

// Book reserves the slot for the authenticated patient and returns the
// appointment id.
func (c *Client) Book(ctx context.Context, req BookingRequest) (string, error) {
	if req.AccessToken == "" || req.SlotID == "" || req.DoctorID == "" || req.DoctorNumber == 0 {
		return "", errors.New("scheduling: missing booking parameters")
	}
	uf := req.DoctorUF
	if uf == "" {
		uf = "BA"
	}
	body, _ := json.Marshal(map[string]any{
		"procedimento":    req.ProcedureID,
		"id":              req.SlotID,
		"email":           req.Email != "",
		"teleatendimento": false,
		"revisao":         false,
		"remarcacao":      "",
		"ordem_chegada":   false,
		"solicitante": map[string]any{
			"conselho": "CRM",
			"uf":       uf,
			"numero":   req.DoctorNumber,
			"nome":     req.DoctorName,
		},
		"confirmado": "confirmed",
		"obs":        "agendado pelo assistente virtual",
	})

	data, err := c.invoke(ctx, http.MethodPost, "/agenda/horario", body, "Bearer "+req.AccessToken)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("scheduling: decode booking: %w", err)
	}
	return resp.ID.String(), nil
}

// APIError is a non-2xx answer from Klingo.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scheduling: klingo returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte, auth string) ([]byte, error) {
	fullURL := c.baseURL + path

	var data []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("scheduling: build request: %w", err)
		}
		req.Header.Set("accept", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		} else {
			req.Header.Set("X-APP-TOKEN", c.appToken)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return retry.Transient(fmt.Errorf("scheduling: http timeout: %w", err))
			}
			return retry.Transient(fmt.Errorf("scheduling: http error: %w", err))
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("scheduling: read response: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: snippet(data)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("klingo retry", "path", path, "status", resp.StatusCode)
			return retry.Transient(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// firstID handles Klingo answering either an object or a one-element array.
func firstID(data []byte) (string, error) {
	var obj struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.ID.String() != "" {
		return obj.ID.String(), nil
	}
	var arr []struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 && arr[0].ID.String() != "" {
		return arr[0].ID.String(), nil
	}
	return "", errors.New("no id in response")
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func snippet(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
