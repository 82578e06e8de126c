package conversation

import (
	"fmt"
	"time"
)

// Intent is the top-level track a session is on. A state is only valid for
// steps belonging to its intent, which keeps a payment step from ever
// running inside a scheduling session.
type Intent string

const (
	IntentScheduling Intent = "agendamento"
	IntentPayment    Intent = "pagamento"
	IntentHandoff    Intent = "atendimento_humano"
)

// Step is one stage of the staged flow. Steps advance only through the
// transition table below; the language model never chooses a step.
type Step string

const (
	StepSelectSpecialty    Step = "select_specialty"
	StepSelectConsulta     Step = "select_consulta"
	StepSelectPlano        Step = "select_plano"
	StepSelectDoctor       Step = "select_doctor"
	StepSelectDate         Step = "select_date"
	StepSelectTime         Step = "select_time"
	StepConfirmAppointment Step = "confirm_appointment"
	StepCollectInfo        Step = "collect_info"
	StepIdentifyPatient    Step = "identify_patient"
	StepRegisterPatient    Step = "register_patient"
	StepLoginPatient       Step = "login_patient"
	StepBookAppointment    Step = "book_appointment"
	StepOfferPayment       Step = "offer_payment"

	StepCreateCustomer   Step = "create_customer"
	StepGeneratePayment  Step = "generate_payment"
	StepPaymentCompleted Step = "payment_completed"

	StepHandoff Step = "handoff"
)

// MaxAttempts is how many failed tries a single step tolerates before the
// session escalates to a human.
const MaxAttempts = 3

// transitions is the only place a step can advance from. Branching steps
// (identify_patient) pick their successor in the router, but always from
// the set listed here.
var transitions = map[Step][]Step{
	StepSelectSpecialty:    {StepSelectConsulta},
	StepSelectConsulta:     {StepSelectPlano},
	StepSelectPlano:        {StepSelectDoctor},
	StepSelectDoctor:       {StepSelectDate},
	StepSelectDate:         {StepSelectTime},
	StepSelectTime:         {StepConfirmAppointment},
	StepConfirmAppointment: {StepCollectInfo},
	StepCollectInfo:        {StepIdentifyPatient},
	StepIdentifyPatient:    {StepBookAppointment, StepRegisterPatient},
	StepRegisterPatient:    {StepLoginPatient},
	StepLoginPatient:       {StepBookAppointment},
	StepBookAppointment:    {StepOfferPayment},
	StepOfferPayment:       {StepCreateCustomer},

	StepCreateCustomer:  {StepGeneratePayment},
	StepGeneratePayment: {StepPaymentCompleted},
}

// stepIntents maps every step to the intent it belongs to.
var stepIntents = map[Step]Intent{
	StepSelectSpecialty:    IntentScheduling,
	StepSelectConsulta:     IntentScheduling,
	StepSelectPlano:        IntentScheduling,
	StepSelectDoctor:       IntentScheduling,
	StepSelectDate:         IntentScheduling,
	StepSelectTime:         IntentScheduling,
	StepConfirmAppointment: IntentScheduling,
	StepCollectInfo:        IntentScheduling,
	StepIdentifyPatient:    IntentScheduling,
	StepRegisterPatient:    IntentScheduling,
	StepLoginPatient:       IntentScheduling,
	StepBookAppointment:    IntentScheduling,
	StepOfferPayment:       IntentScheduling,

	StepCreateCustomer:   IntentPayment,
	StepGeneratePayment:  IntentPayment,
	StepPaymentCompleted: IntentPayment,

	StepHandoff: IntentHandoff,
}

// requiredSlots lists what must already be filled for a state to legally
// stand at a given step. A state violating this is corrupt and gets reset.
var requiredSlots = map[Step][]string{
	StepSelectConsulta:     {SlotSpecialty},
	StepSelectPlano:        {SlotSpecialty, SlotConsulta},
	StepSelectDoctor:       {SlotSpecialty, SlotConsulta, SlotPlano},
	StepSelectDate:         {SlotDoctorID},
	StepSelectTime:         {SlotDoctorID, SlotDate},
	StepConfirmAppointment: {SlotDoctorID, SlotDate, SlotTime, SlotSlotID},
	StepCollectInfo:        {SlotSlotID},
	StepIdentifyPatient:    {SlotSlotID, SlotName, SlotBirthDate},
	StepRegisterPatient:    {SlotName, SlotBirthDate, SlotGender},
	StepLoginPatient:       {SlotRegisterID},
	StepBookAppointment:    {SlotSlotID, SlotAccessToken},
	StepOfferPayment:       {SlotAppointmentID},

	StepCreateCustomer:  {SlotCPF},
	StepGeneratePayment: {SlotCustomerID},
}

// Slot names shared between the interpreter prompts and the router.
const (
	SlotSpecialty     = "especialidade"
	SlotConsulta      = "consulta_tipo"
	SlotPlano         = "plano"
	SlotDoctorID      = "medico_id"
	SlotDoctorName    = "medico_nome"
	SlotDoctorNumber  = "medico_numero"
	SlotDate          = "data"
	SlotTime          = "horario"
	SlotSlotID        = "slot_id"
	SlotName          = "nome"
	SlotGender        = "sexo"
	SlotBirthDate     = "dt_nascimento"
	SlotCPF           = "cpf"
	SlotEmail         = "email"
	SlotRegisterID    = "register_id"
	SlotAccessToken   = "access_token"
	SlotAppointmentID = "appointment_id"
	SlotCustomerID    = "customer_id"
	SlotInvoiceURL    = "invoice_url"
	SlotConfirmed     = "confirmado"
)

// State is one user's position in the flow, persisted between turns.
type State struct {
	Intent    Intent            `json:"intent"`
	Step      Step              `json:"step"`
	Attempts  int               `json:"attempts"`
	Slots     map[string]string `json:"slots"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewState starts a fresh scheduling session.
func NewState() *State {
	return &State{
		Intent: IntentScheduling,
		Step:   StepSelectSpecialty,
		Slots:  make(map[string]string),
	}
}

// Validate checks intent/step consistency and slot prerequisites.
func (s *State) Validate() error {
	intent, ok := stepIntents[s.Step]
	if !ok {
		return fmt.Errorf("conversation: unknown step %q", s.Step)
	}
	if intent != s.Intent {
		return fmt.Errorf("conversation: step %q does not belong to intent %q", s.Step, s.Intent)
	}
	if s.Attempts < 0 || s.Attempts > MaxAttempts {
		return fmt.Errorf("conversation: attempts %d out of range", s.Attempts)
	}
	for _, slot := range requiredSlots[s.Step] {
		if s.Slots[slot] == "" {
			return fmt.Errorf("conversation: step %q reached without slot %q", s.Step, slot)
		}
	}
	return nil
}

// CanAdvance reports whether next is a legal successor of the current step.
func (s *State) CanAdvance(next Step) bool {
	for _, candidate := range transitions[s.Step] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Advance moves to next, resetting the attempt counter. Illegal transitions
// are rejected so a bug cannot teleport a session forward.
func (s *State) Advance(next Step) error {
	if !s.CanAdvance(next) {
		return fmt.Errorf("conversation: illegal transition %q -> %q", s.Step, next)
	}
	s.Step = next
	s.Intent = stepIntents[next]
	s.Attempts = 0
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry counts a failed attempt at the current step. It returns true when
// the ceiling is hit and the session must escalate.
func (s *State) Retry() bool {
	s.Attempts++
	s.UpdatedAt = time.Now().UTC()
	return s.Attempts >= MaxAttempts
}

// Escalate parks the session with a human attendant.
func (s *State) Escalate() {
	s.Intent = IntentHandoff
	s.Step = StepHandoff
	s.Attempts = 0
	s.UpdatedAt = time.Now().UTC()
}

// Set records a slot value, ignoring empties so an extraction miss never
// erases earlier progress.
func (s *State) Set(slot, value string) {
	if value == "" {
		return
	}
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	s.Slots[slot] = value
}

// Get returns a slot value, empty when unset.
func (s *State) Get(slot string) string {
	return s.Slots[slot]
}
