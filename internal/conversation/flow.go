package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/catalog"
	"github.com/saluslabs/clinic-assistant/internal/clinic"
	"github.com/saluslabs/clinic-assistant/internal/leads"
	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/internal/payments"
	"github.com/saluslabs/clinic-assistant/internal/scheduling"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// agendaSlot holds the presented options between turns; it is internal
// bookkeeping, not user data.
const slotAgenda = "_agenda"

// Interpreter extracts slots from free text. It never picks steps.
type Interpreter interface {
	Extract(ctx context.Context, instruction, text string) (map[string]string, error)
}

// Scheduler is the slice of the Klingo client the flow needs.
type Scheduler interface {
	Schedule(ctx context.Context, req scheduling.ScheduleRequest) ([]scheduling.DoctorAgenda, error)
	Identify(ctx context.Context, phone, birthDate string) (*scheduling.Patient, error)
	Register(ctx context.Context, reg scheduling.Registration) (string, error)
	Login(ctx context.Context, registerID string) (*scheduling.Patient, error)
	Book(ctx context.Context, req scheduling.BookingRequest) (string, error)
}

// Payer is the slice of the Asaas client the flow needs.
type Payer interface {
	EnsureCustomer(ctx context.Context, req payments.CustomerRequest) (*payments.Customer, error)
	CreatePayment(ctx context.Context, customerID string, amount float64, description string) (*payments.Payment, error)
}

// ProcedureCatalog resolves consultation types to exam ids and prices.
type ProcedureCatalog interface {
	Search(ctx context.Context, term string) ([]catalog.Procedure, error)
}

// FlowConfig carries the clinic-level scheduling parameters.
type FlowConfig struct {
	// SpecialtyID, ExamID and PlanID are the Klingo defaults used when the
	// catalog has no better answer.
	SpecialtyID string
	ExamID      string
	PlanID      string
	// PriceCents is the default consultation deposit.
	PriceCents     int64
	SupportContact string
	// Window is how many days of agenda to offer, starting tomorrow.
	Window int
	// Clinic carries the onboarded persona and confirmation extras.
	Clinic *clinic.Config
}

// Result is the outcome of one routed turn.
type Result struct {
	Reply   string
	Done    bool
	Handoff bool
}

// Flow routes a settled message through the staged state machine. Every
// advance comes from the transition table; the interpreter only fills slots.
type Flow struct {
	interp    Interpreter
	scheduler Scheduler
	payer     Payer
	catalog   ProcedureCatalog
	repo      leads.Repository
	cfg       FlowConfig
	metrics   *metrics.AssistantMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewFlow(interp Interpreter, scheduler Scheduler, payer Payer, procs ProcedureCatalog, repo leads.Repository, cfg FlowConfig, m *metrics.AssistantMetrics, logger *logging.Logger) *Flow {
	if interp == nil || scheduler == nil || payer == nil || repo == nil {
		panic("conversation: flow collaborators cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	if cfg.PriceCents <= 0 {
		cfg.PriceCents = 15000
	}
	return &Flow{
		interp:    interp,
		scheduler: scheduler,
		payer:     payer,
		catalog:   procs,
		repo:      repo,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle routes one settled user message. state is mutated in place; the
// caller persists it afterwards.
func (f *Flow) Handle(ctx context.Context, session *Session, state *State, text string) (*Result, error) {
	log := f.logger.WithUser(session.RemoteJID)

	if state.Step == StepHandoff {
		return &Result{Reply: f.handoffReply(), Handoff: true, Done: true}, nil
	}
	if state.Step == StepPaymentCompleted {
		f.metrics.ObserveTurn(string(state.Step), "done")
		return &Result{Reply: "Seu atendimento já está confirmado. Qualquer dúvida é só chamar!", Done: true}, nil
	}

	fresh := state.Step == StepSelectSpecialty && state.Attempts == 0 && len(state.Slots) == 0

	result, err := f.collect(ctx, session, state, text)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// collector advanced the state; run any action steps that follow
		result, err = f.runActions(ctx, session, state, log)
		if err != nil {
			return nil, err
		}
	}
	if fresh && !result.Handoff {
		if greeting := f.greeting(); greeting != "" {
			result.Reply = greeting + "\n\n" + result.Reply
		}
	}
	return result, nil
}

func (f *Flow) greeting() string {
	if f.cfg.Clinic == nil {
		return ""
	}
	return f.cfg.Clinic.Greeting
}

// collect handles the current step's user input. It returns a Result when
// the turn ends here (retry, escalation, or a terminal answer), or nil when
// the state advanced and action steps should run.
func (f *Flow) collect(ctx context.Context, session *Session, state *State, text string) (*Result, error) {
	switch state.Step {
	case StepSelectSpecialty:
		return f.collectSlot(ctx, state, text, promptSpecialty, SlotSpecialty, StepSelectConsulta,
			"Qual tipo de atendimento você precisa: consulta, retorno ou exame?",
			"Não consegui identificar a especialidade. Pode me dizer qual especialidade você procura?")

	case StepSelectConsulta:
		return f.collectSlot(ctx, state, text, promptConsulta, SlotConsulta, StepSelectPlano,
			"Você tem plano de saúde ou o atendimento será particular?",
			"Não entendi o tipo de atendimento. É consulta, retorno ou exame?")

	case StepSelectPlano:
		return f.collectPlano(ctx, session, state, text)

	case StepSelectDoctor:
		return f.collectDoctor(ctx, state, text)

	case StepSelectDate:
		return f.collectDate(ctx, state, text)

	case StepSelectTime:
		return f.collectTime(ctx, state, text)

	case StepConfirmAppointment:
		return f.collectConfirmation(ctx, state, text)

	case StepCollectInfo:
		return f.collectInfo(ctx, session, state, text)

	case StepOfferPayment:
		return f.collectPaymentDecision(ctx, state, text)

	default:
		// an action step was persisted mid-run; resume it
		return nil, nil
	}
}

// collectSlot is the common shape of the simple one-slot steps.
func (f *Flow) collectSlot(ctx context.Context, state *State, text, instruction, slot string, next Step, ask, retryMsg string) (*Result, error) {
	values, err := f.interp.Extract(ctx, instruction, text)
	if err != nil {
		f.logger.Warn("slot extraction failed", "step", state.Step, "error", err)
	}
	value := ""
	if values != nil {
		value = values[slot]
	}
	if value == "" {
		return f.retry(state, retryMsg)
	}
	state.Set(slot, value)
	if err := state.Advance(next); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	return &Result{Reply: ask}, nil
}

func (f *Flow) collectPlano(ctx context.Context, session *Session, state *State, text string) (*Result, error) {
	values, _ := f.interp.Extract(ctx, promptPlano, text)
	value := ""
	if values != nil {
		value = values[SlotPlano]
	}
	if value == "" {
		return f.retry(state, "Não entendi. Você tem convênio ou o atendimento será particular?")
	}
	state.Set(SlotPlano, value)
	if err := state.Advance(StepSelectDoctor); err != nil {
		return nil, err
	}

	ask, err := f.presentAgenda(ctx, state)
	if err != nil {
		if errors.Is(err, scheduling.ErrNoAvailability) {
			state.Escalate()
			f.metrics.ObserveHandoff("no_availability")
			return &Result{Reply: "No momento não encontrei horários disponíveis. " + f.handoffReply(), Handoff: true}, nil
		}
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	return &Result{Reply: ask}, nil
}

// presentAgenda fetches availability and renders the doctor options,
// stashing them for the following steps.
func (f *Flow) presentAgenda(ctx context.Context, state *State) (string, error) {
	examID, _ := f.resolveProcedure(ctx, state.Get(SlotConsulta))
	start := f.now().AddDate(0, 0, 1)
	agendas, err := f.scheduler.Schedule(ctx, scheduling.ScheduleRequest{
		SpecialtyID: f.cfg.SpecialtyID,
		ExamID:      examID,
		PlanID:      f.cfg.PlanID,
		Start:       start,
		End:         start.AddDate(0, 0, f.cfg.Window-1),
	})
	if err != nil {
		return "", err
	}
	stash, err := json.Marshal(agendas)
	if err != nil {
		return "", fmt.Errorf("conversation: stash agenda: %w", err)
	}
	state.Set(slotAgenda, string(stash))

	var b strings.Builder
	b.WriteString("Temos horários com os seguintes profissionais:\n")
	for i, a := range agendas {
		fmt.Fprintf(&b, "%d. %s (datas: %s)\n", i+1, a.DoctorName, strings.Join(a.Dates, ", "))
	}
	b.WriteString("Com qual profissional você prefere agendar?")
	return b.String(), nil
}

func (f *Flow) stashedAgenda(state *State) ([]scheduling.DoctorAgenda, error) {
	raw := state.Get(slotAgenda)
	if raw == "" {
		return nil, errors.New("conversation: agenda options missing from state")
	}
	var agendas []scheduling.DoctorAgenda
	if err := json.Unmarshal([]byte(raw), &agendas); err != nil {
		return nil, fmt.Errorf("conversation: corrupt agenda stash: %w", err)
	}
	return agendas, nil
}

func (f *Flow) collectDoctor(ctx context.Context, state *State, text string) (*Result, error) {
	agendas, err := f.stashedAgenda(state)
	if err != nil {
		return nil, err
	}
	values, _ := f.interp.Extract(ctx, promptDoctor(agendas), text)

	var chosen *scheduling.DoctorAgenda
	if values != nil {
		name := strings.ToLower(values[SlotDoctorName])
		for i := range agendas {
			if name != "" && strings.Contains(strings.ToLower(agendas[i].DoctorName), name) {
				chosen = &agendas[i]
				break
			}
			if values[SlotDoctorID] == agendas[i].DoctorID {
				chosen = &agendas[i]
				break
			}
		}
	}
	if chosen == nil {
		return f.retry(state, "Não identifiquei o profissional. Pode repetir o nome ou o número da opção?")
	}
	state.Set(SlotDoctorID, chosen.DoctorID)
	state.Set(SlotDoctorName, chosen.DoctorName)
	state.Set(SlotDoctorNumber, fmt.Sprintf("%d", chosen.DoctorNumber))
	if err := state.Advance(StepSelectDate); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	reply := fmt.Sprintf("%s tem datas disponíveis em: %s. Qual data prefere?",
		chosen.DoctorName, strings.Join(chosen.Dates, ", "))
	return &Result{Reply: reply}, nil
}

func (f *Flow) collectDate(ctx context.Context, state *State, text string) (*Result, error) {
	agenda, err := f.chosenDoctor(state)
	if err != nil {
		return nil, err
	}
	values, _ := f.interp.Extract(ctx, promptDate(agenda.Dates), text)
	date := ""
	if values != nil {
		date = values[SlotDate]
	}
	if !containsString(agenda.Dates, date) {
		return f.retry(state, fmt.Sprintf("Essa data não está disponível. As opções são: %s.", strings.Join(agenda.Dates, ", ")))
	}
	state.Set(SlotDate, date)
	if err := state.Advance(StepSelectTime); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")

	var times []string
	for _, slot := range agenda.Times[date] {
		times = append(times, slot.Time)
	}
	return &Result{Reply: fmt.Sprintf("Horários disponíveis em %s: %s. Qual prefere?", date, strings.Join(times, ", "))}, nil
}

func (f *Flow) collectTime(ctx context.Context, state *State, text string) (*Result, error) {
	agenda, err := f.chosenDoctor(state)
	if err != nil {
		return nil, err
	}
	date := state.Get(SlotDate)
	options := agenda.Times[date]

	values, _ := f.interp.Extract(ctx, promptTime(options), text)
	chosen := ""
	if values != nil {
		chosen = values[SlotTime]
	}
	var slotID string
	for _, opt := range options {
		if opt.Time == chosen {
			slotID = opt.SlotID
			break
		}
	}
	if slotID == "" {
		var times []string
		for _, opt := range options {
			times = append(times, opt.Time)
		}
		return f.retry(state, fmt.Sprintf("Esse horário não está disponível. As opções são: %s.", strings.Join(times, ", ")))
	}
	state.Set(SlotTime, chosen)
	state.Set(SlotSlotID, slotID)
	if err := state.Advance(StepConfirmAppointment); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	reply := fmt.Sprintf("Confirmando: %s com %s em %s às %s. Posso confirmar? (sim/não)",
		state.Get(SlotConsulta), state.Get(SlotDoctorName), date, chosen)
	return &Result{Reply: reply}, nil
}

func (f *Flow) collectConfirmation(ctx context.Context, state *State, text string) (*Result, error) {
	decision, miss := f.yesNo(ctx, text)
	if miss {
		return f.retry(state, "Desculpe, não entendi. Posso confirmar o agendamento? Responda sim ou não.")
	}
	if !decision {
		fresh := NewState()
		*state = *fresh
		f.metrics.ObserveTurn(string(StepConfirmAppointment), "restarted")
		return &Result{Reply: "Sem problemas, vamos recomeçar. Qual especialidade você procura?"}, nil
	}
	state.Set(SlotConfirmed, "sim")
	if err := state.Advance(StepCollectInfo); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	return &Result{Reply: "Perfeito! Para finalizar preciso de alguns dados: nome completo, sexo (M/F), data de nascimento (DD/MM/AAAA) e CPF."}, nil
}

func (f *Flow) collectInfo(ctx context.Context, session *Session, state *State, text string) (*Result, error) {
	values, _ := f.interp.Extract(ctx, promptPatientInfo, text)
	for _, slot := range []string{SlotName, SlotGender, SlotBirthDate, SlotCPF, SlotEmail} {
		if values != nil {
			state.Set(slot, values[slot])
		}
	}
	// regex extraction catches what the model missed
	partial := leads.ExtractFromText(text)
	state.Set(SlotCPF, partial.CPFCNPJ)
	state.Set(SlotBirthDate, partial.BirthDate)
	state.Set(SlotEmail, partial.Email)

	var missing []string
	checks := []struct{ slot, label string }{
		{SlotName, "nome completo"},
		{SlotGender, "sexo (M/F)"},
		{SlotBirthDate, "data de nascimento"},
		{SlotCPF, "CPF"},
	}
	for _, c := range checks {
		if state.Get(c.slot) == "" {
			missing = append(missing, c.label)
		}
	}
	if cpf := state.Get(SlotCPF); cpf != "" && !validCPF(cpf) {
		state.Slots[SlotCPF] = ""
		missing = append(missing, "CPF válido (11 dígitos)")
	}
	if len(missing) > 0 {
		return f.retry(state, "Ainda preciso de: "+strings.Join(missing, ", ")+".")
	}

	if _, err := f.repo.Upsert(ctx, session.RemoteJID, leads.Lead{
		Name:      state.Get(SlotName),
		BirthDate: state.Get(SlotBirthDate),
		CPFCNPJ:   state.Get(SlotCPF),
		Email:     state.Get(SlotEmail),
	}); err != nil {
		f.logger.Error("lead upsert failed", "error", err)
	}
	if err := state.Advance(StepIdentifyPatient); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	return nil, nil
}

func (f *Flow) collectPaymentDecision(ctx context.Context, state *State, text string) (*Result, error) {
	decision, miss := f.yesNo(ctx, text)
	if miss {
		return f.retry(state, "Deseja adiantar o pagamento da consulta? Responda sim ou não.")
	}
	if !decision {
		f.metrics.ObserveTurn(string(state.Step), "declined")
		return &Result{Reply: "Tudo bem! O pagamento poderá ser feito na recepção. Até breve!", Done: true}, nil
	}
	if err := state.Advance(StepCreateCustomer); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(state.Step), "advanced")
	return nil, nil
}

// runActions executes consecutive non-interactive steps until the flow needs
// the user again.
func (f *Flow) runActions(ctx context.Context, session *Session, state *State, log *logging.Logger) (*Result, error) {
	for {
		switch state.Step {
		case StepIdentifyPatient:
			if result, err := f.actIdentify(ctx, session, state); result != nil || err != nil {
				return result, err
			}
		case StepRegisterPatient:
			if result, err := f.actRegister(ctx, session, state); result != nil || err != nil {
				return result, err
			}
		case StepLoginPatient:
			if result, err := f.actLogin(ctx, state); result != nil || err != nil {
				return result, err
			}
		case StepBookAppointment:
			return f.actBook(ctx, session, state)
		case StepCreateCustomer:
			if result, err := f.actCreateCustomer(ctx, session, state); result != nil || err != nil {
				return result, err
			}
		case StepGeneratePayment:
			return f.actGeneratePayment(ctx, session, state)
		default:
			log.Error("action loop reached non-action step", "step", state.Step)
			return nil, fmt.Errorf("conversation: unexpected step %q in action loop", state.Step)
		}
	}
}

func (f *Flow) actIdentify(ctx context.Context, session *Session, state *State) (*Result, error) {
	phone := leads.PhoneFromJID(session.RemoteJID)
	patient, err := f.scheduler.Identify(ctx, localPhone(phone), state.Get(SlotBirthDate))
	if errors.Is(err, scheduling.ErrPatientNotFound) {
		if err := state.Advance(StepRegisterPatient); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return f.actionFailure(state, "identify", err)
	}
	state.Set(SlotAccessToken, patient.AccessToken)
	if _, err := f.repo.Upsert(ctx, session.RemoteJID, leads.Lead{
		KlingoClientID:  patient.ID,
		KlingoAccessKey: patient.AccessToken,
	}); err != nil {
		f.logger.Error("lead upsert failed", "error", err)
	}
	if err := state.Advance(StepBookAppointment); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Flow) actRegister(ctx context.Context, session *Session, state *State) (*Result, error) {
	registerID, err := f.scheduler.Register(ctx, scheduling.Registration{
		Name:      state.Get(SlotName),
		Gender:    strings.ToUpper(state.Get(SlotGender)),
		BirthDate: state.Get(SlotBirthDate),
		Phone:     localPhone(leads.PhoneFromJID(session.RemoteJID)),
		Email:     state.Get(SlotEmail),
	})
	if err != nil {
		return f.actionFailure(state, "register", err)
	}
	state.Set(SlotRegisterID, registerID)
	if err := state.Advance(StepLoginPatient); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Flow) actLogin(ctx context.Context, state *State) (*Result, error) {
	patient, err := f.scheduler.Login(ctx, state.Get(SlotRegisterID))
	if err != nil {
		return f.actionFailure(state, "login", err)
	}
	state.Set(SlotAccessToken, patient.AccessToken)
	if err := state.Advance(StepBookAppointment); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Flow) actBook(ctx context.Context, session *Session, state *State) (*Result, error) {
	examID, _ := f.resolveProcedure(ctx, state.Get(SlotConsulta))
	doctorNumber, _ := strconv.Atoi(state.Get(SlotDoctorNumber))

	appointmentID, err := f.scheduler.Book(ctx, scheduling.BookingRequest{
		AccessToken:  state.Get(SlotAccessToken),
		SlotID:       state.Get(SlotSlotID),
		ProcedureID:  examID,
		DoctorID:     state.Get(SlotDoctorID),
		DoctorName:   state.Get(SlotDoctorName),
		DoctorNumber: doctorNumber,
		Email:        state.Get(SlotEmail),
	})
	if err != nil {
		return f.actionFailure(state, "book", err)
	}
	state.Set(SlotAppointmentID, appointmentID)

	when := appointmentTime(state.Get(SlotDate), state.Get(SlotTime))
	if _, err := f.repo.Upsert(ctx, session.RemoteJID, leads.Lead{
		Doctor:              state.Get(SlotDoctorName),
		AppointmentID:       appointmentID,
		AppointmentDatetime: when,
		PaymentStatus:       leads.PaymentPending,
	}); err != nil {
		f.logger.Error("lead upsert failed", "error", err)
	}
	if err := state.Advance(StepOfferPayment); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(StepBookAppointment), "booked")
	reply := fmt.Sprintf("Agendamento confirmado com %s em %s às %s!",
		state.Get(SlotDoctorName), state.Get(SlotDate), state.Get(SlotTime))
	if f.cfg.Clinic != nil {
		if footer := f.cfg.Clinic.ConfirmationFooter(); footer != "" {
			reply += "\n" + footer
		}
	}
	reply += "\n\nDeseja adiantar o pagamento da consulta? (sim/não)"
	return &Result{Reply: reply}, nil
}

func (f *Flow) actCreateCustomer(ctx context.Context, session *Session, state *State) (*Result, error) {
	customer, err := f.payer.EnsureCustomer(ctx, payments.CustomerRequest{
		CPFCNPJ: state.Get(SlotCPF),
		Name:    state.Get(SlotName),
		Email:   state.Get(SlotEmail),
		Phone:   localPhone(leads.PhoneFromJID(session.RemoteJID)),
	})
	if err != nil {
		return f.actionFailure(state, "create_customer", err)
	}
	state.Set(SlotCustomerID, customer.ID)
	if _, err := f.repo.Upsert(ctx, session.RemoteJID, leads.Lead{AsaasCustomerID: customer.ID}); err != nil {
		f.logger.Error("lead upsert failed", "error", err)
	}
	if err := state.Advance(StepGeneratePayment); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Flow) actGeneratePayment(ctx context.Context, session *Session, state *State) (*Result, error) {
	_, priceCents := f.resolveProcedure(ctx, state.Get(SlotConsulta))
	description := fmt.Sprintf("Consulta com %s em %s", state.Get(SlotDoctorName), state.Get(SlotDate))

	payment, err := f.payer.CreatePayment(ctx, state.Get(SlotCustomerID), float64(priceCents)/100, description)
	if err != nil {
		return f.actionFailure(state, "generate_payment", err)
	}
	state.Set(SlotInvoiceURL, payment.InvoiceURL)
	if err := state.Advance(StepPaymentCompleted); err != nil {
		return nil, err
	}
	f.metrics.ObserveTurn(string(StepGeneratePayment), "payment_created")
	reply := fmt.Sprintf("Aqui está o link de pagamento: %s\n\nAssim que o pagamento for confirmado, seu agendamento estará garantido!", payment.InvoiceURL)
	return &Result{Reply: reply, Done: true}, nil
}

// actionFailure counts a failed collaborator call against the step's attempt
// budget and escalates at the ceiling.
func (f *Flow) actionFailure(state *State, action string, err error) (*Result, error) {
	f.logger.Warn("flow action failed", "action", action, "step", state.Step, "error", err)
	f.metrics.ObserveTurn(string(state.Step), "failed")
	if state.Retry() {
		state.Escalate()
		f.metrics.ObserveHandoff("attempts_exhausted")
		return &Result{Reply: f.handoffReply(), Handoff: true}, nil
	}
	return &Result{Reply: "Tivemos um problema ao processar sua solicitação. Pode tentar novamente em instantes?"}, nil
}

func (f *Flow) retry(state *State, msg string) (*Result, error) {
	f.metrics.ObserveTurn(string(state.Step), "retry")
	if state.Retry() {
		state.Escalate()
		f.metrics.ObserveHandoff("attempts_exhausted")
		return &Result{Reply: f.handoffReply(), Handoff: true}, nil
	}
	return &Result{Reply: msg}, nil
}

func (f *Flow) handoffReply() string {
	contact := f.cfg.SupportContact
	if contact == "" && f.cfg.Clinic != nil {
		contact = f.cfg.Clinic.SupportContact
	}
	if contact == "" {
		return "Vou transferir você para um de nossos atendentes. Aguarde um momento, por favor."
	}
	return "Vou transferir você para um de nossos atendentes: " + contact
}

// yesNo resolves a confirmation answer, cheap keywords first, interpreter
// as fallback. miss is true when neither produced a decision.
func (f *Flow) yesNo(ctx context.Context, text string) (decision, miss bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(lower, "sim"), strings.Contains(lower, "pode confirmar"), lower == "s", strings.Contains(lower, "claro"):
		return true, false
	case strings.HasPrefix(lower, "não"), strings.HasPrefix(lower, "nao"), lower == "n":
		return false, false
	}
	values, err := f.interp.Extract(ctx, promptYesNo, text)
	if err != nil || values == nil {
		return false, true
	}
	switch values[SlotConfirmed] {
	case "sim", "true":
		return true, false
	case "não", "nao", "false":
		return false, false
	}
	return false, true
}

func (f *Flow) chosenDoctor(state *State) (*scheduling.DoctorAgenda, error) {
	agendas, err := f.stashedAgenda(state)
	if err != nil {
		return nil, err
	}
	id := state.Get(SlotDoctorID)
	for i := range agendas {
		if agendas[i].DoctorID == id {
			return &agendas[i], nil
		}
	}
	return nil, fmt.Errorf("conversation: chosen doctor %q not in stashed agenda", id)
}

// resolveProcedure maps the consultation type to a Klingo exam id and price,
// falling back to the configured defaults.
func (f *Flow) resolveProcedure(ctx context.Context, consultaType string) (examID string, priceCents int64) {
	examID = f.cfg.ExamID
	priceCents = f.cfg.PriceCents
	if f.catalog == nil || consultaType == "" {
		return examID, priceCents
	}
	procs, err := f.catalog.Search(ctx, consultaType)
	if err != nil || len(procs) == 0 {
		return examID, priceCents
	}
	if procs[0].KlingoExamID != "" {
		examID = procs[0].KlingoExamID
	}
	if procs[0].PriceCents > 0 {
		priceCents = procs[0].PriceCents
	}
	return examID, priceCents
}

func appointmentTime(date, hhmm string) *time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, saoPaulo())
	if err != nil {
		return nil
	}
	return &t
}

func saoPaulo() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.UTC
	}
	return loc
}

func localPhone(phone string) string {
	// Klingo expects DDD+number without the country code
	if strings.HasPrefix(phone, "55") && len(phone) > 11 {
		return phone[2:]
	}
	return phone
}

func validCPF(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}
	for _, r := range cpf {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsString(xs []string, x string) bool {
	if x == "" {
		return false
	}
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
