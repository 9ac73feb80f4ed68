package gate

import "regexp"

// Verdict is the content-policy decision for one message.
type Verdict struct {
	Allowed bool
	Reasons []string
}

type rule struct {
	id string
	re *regexp.Regexp
}

// Policy matches user text against prompt-injection and PII patterns.
type Policy struct {
	rules []rule
}

// DefaultPolicy returns the English and Spanish rule set.
func DefaultPolicy() *Policy {
	return &Policy{rules: []rule{
		{"ignore_instructions", regexp.MustCompile(`(?i)ignore (?:all |the )?(?:previous|prior|above) (?:instructions|rules)`)},
		{"act_as_system", regexp.MustCompile(`(?i)act as .* (?:system|developer)`)},
		{"reveal_system_prompt", regexp.MustCompile(`(?i)reveal (?:the )?system prompt`)},
		{"olvida_instrucciones", regexp.MustCompile(`(?i)olvida las instrucciones`)},
		{"actua_como_sistema", regexp.MustCompile(`(?i)act[uú]a como .* sistema`)},
		{"pii_ssn", regexp.MustCompile(`(?i)\b(?:ssn|social security number)\b`)},
		{"pii_card", regexp.MustCompile(`(?i)\b(?:credit card|card number|tarjeta de crédito|cvv)\b`)},
		{"pii_password", regexp.MustCompile(`(?i)\b(?:password|contraseña|passcode|clave)\b`)},
		{"card_number", regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
	}}
}

// Evaluate reports every rule text matches.
func (p *Policy) Evaluate(text string) Verdict {
	var reasons []string
	for _, r := range p.rules {
		if r.re.MatchString(text) {
			reasons = append(reasons, r.id)
		}
	}
	return Verdict{Allowed: len(reasons) == 0, Reasons: reasons}
}

// Refusal is the localized answer sent instead of escalating a disallowed message.
func Refusal(lang string) string {
	if lang == "es" {
		return "No puedo ayudar con esa solicitud. Quita cualquier dato sensible o reformula tu pregunta."
	}
	return "I can't help with that request. Please remove any sensitive details or rephrase your question."
}
