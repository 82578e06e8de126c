package leads

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	emailPattern     = regexp.MustCompile(`[\w.\-+]+@[\w.\-]+\.\w{2,}`)
	cepPattern       = regexp.MustCompile(`\b(\d{5})-?(\d{3})\b`)
	birthDatePattern = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	cpfPattern       = regexp.MustCompile(`\b(\d{3})\.?(\d{3})\.?(\d{3})-?(\d{2})\b`)
	labelPattern     = regexp.MustCompile(`(?i)\b(cidade|estado|email|nome)\s*:\s*([^\n,;]+)`)
)

// ExtractFromText scans a free-form message for identification data the user
// volunteered (email, CEP, CPF, birth date, labeled fields) and returns a
// partial Lead suitable for an upsert. Fields never found stay zero.
func ExtractFromText(text string) Lead {
	var partial Lead

	if m := emailPattern.FindString(text); m != "" {
		partial.Email = strings.ToLower(m)
	}
	if m := cpfPattern.FindStringSubmatch(text); m != nil {
		partial.CPFCNPJ = m[1] + m[2] + m[3] + m[4]
	}
	if m := cepPattern.FindStringSubmatch(text); m != nil && partial.CPFCNPJ == "" {
		partial.CEP = m[1] + "-" + m[2]
	}
	if m := birthDatePattern.FindStringSubmatch(text); m != nil {
		if iso, ok := toISODate(m[1], m[2], m[3]); ok {
			partial.BirthDate = iso
		}
	}
	for _, m := range labelPattern.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "cidade":
			partial.City = value
		case "estado":
			partial.State = value
		case "email":
			if partial.Email == "" {
				partial.Email = strings.ToLower(value)
			}
		case "nome":
			partial.Name = value
		}
	}
	return partial
}

// toISODate converts dd/mm/yyyy parts to YYYY-MM-DD, rejecting impossible
// calendar dates.
func toISODate(day, month, year string) (string, bool) {
	iso := fmt.Sprintf("%s-%s-%s", year, month, day)
	if _, err := time.Parse("2006-01-02", iso); err != nil {
		return "", false
	}
	return iso, true
}
