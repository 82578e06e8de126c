package conversation

import (
	"fmt"
	"strings"

	"github.com/saluslabs/clinic-assistant/internal/scheduling"
)

// Extraction instructions sent to the language model. Each one asks for a
// strict JSON object and nothing else; the router decides what happens with
// the values. Keys must match the Slot* constants.

const promptSpecialty = `Extraia a especialidade médica mencionada pelo paciente.
Responda apenas com JSON no formato {"especialidade": "..."}.
Se nenhuma especialidade for mencionada, responda {"especialidade": ""}.`

const promptConsulta = `Classifique o tipo de atendimento que o paciente deseja: "consulta", "retorno" ou "exame".
Responda apenas com JSON no formato {"consulta_tipo": "..."}.
Se não for possível classificar, responda {"consulta_tipo": ""}.`

const promptPlano = `Identifique o plano de saúde do paciente. Se ele disser que não tem plano ou que pagará por conta própria, o valor é "particular".
Responda apenas com JSON no formato {"plano": "..."}.
Se não for possível identificar, responda {"plano": ""}.`

const promptPatientInfo = `Extraia os dados cadastrais presentes na mensagem do paciente.
Responda apenas com JSON no formato:
{"nome": "...", "sexo": "M ou F", "dt_nascimento": "YYYY-MM-DD", "cpf": "somente dígitos", "email": "..."}.
Omita do JSON os campos que não aparecem na mensagem. Nunca invente valores.`

const promptYesNo = `O paciente está confirmando ou recusando?
Responda apenas com JSON no formato {"confirmado": "sim"} ou {"confirmado": "não"}.
Se a mensagem não for uma resposta de confirmação, responda {"confirmado": ""}.`

func promptDoctor(agendas []scheduling.DoctorAgenda) string {
	var names []string
	for _, a := range agendas {
		names = append(names, fmt.Sprintf("%s (id %s)", a.DoctorName, a.DoctorID))
	}
	return fmt.Sprintf(`O paciente está escolhendo um profissional entre as opções: %s.
Ele pode citar o nome, parte do nome ou o número da opção na lista.
Responda apenas com JSON no formato {"medico_nome": "...", "medico_id": "..."}.
Se não for possível identificar a escolha, responda {"medico_nome": "", "medico_id": ""}.`,
		strings.Join(names, "; "))
}

func promptDate(dates []string) string {
	return fmt.Sprintf(`O paciente está escolhendo uma data entre: %s.
Converta referências como "amanhã" ou "dia 15" para o formato YYYY-MM-DD de uma das opções.
Responda apenas com JSON no formato {"data": "YYYY-MM-DD"}.
Se a escolha não corresponder a nenhuma opção, responda {"data": ""}.`,
		strings.Join(dates, ", "))
}

func promptTime(options []scheduling.SlotOption) string {
	var times []string
	for _, opt := range options {
		times = append(times, opt.Time)
	}
	return fmt.Sprintf(`O paciente está escolhendo um horário entre: %s.
Responda apenas com JSON no formato {"horario": "HH:MM"} usando exatamente uma das opções.
Se a escolha não corresponder a nenhuma opção, responda {"horario": ""}.`,
		strings.Join(times, ", "))
}
