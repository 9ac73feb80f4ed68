package chain

import (
	"strings"

	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/llm"
)

var groundingPolicy = map[string][2]string{
	"en": {
		"Answer ONLY using the context. If info is missing, say so. Cite [#id] for claims.",
		"Be concise and clear.",
	},
	"es": {
		"Responde SOLO con el contexto. Si falta info, dilo. Cita [#id] en las afirmaciones.",
		"Sé conciso y claro.",
	},
}

// SystemPrompt builds the grounded system message for lang. Unknown languages
// use English.
func SystemPrompt(lang string, grounding []corpus.Chunk) string {
	p, ok := groundingPolicy[lang]
	if !ok {
		p = groundingPolicy["en"]
	}

	var b strings.Builder
	b.WriteString(p[0])
	b.WriteString("\n")
	b.WriteString(p[1])
	b.WriteString("\n\nContext:\n")
	for i, ch := range grounding {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[#")
		b.WriteString(ch.ID)
		b.WriteString("] ")
		b.WriteString(ch.Text)
	}
	return b.String()
}

// Messages prepends the grounded system message to the last window messages
// of conv. Any system messages already in conv are dropped.
func Messages(lang string, grounding []corpus.Chunk, conv []llm.Message, window int) []llm.Message {
	conv = llm.Window(conv, window)
	out := make([]llm.Message, 0, len(conv)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(lang, grounding)})
	for _, m := range conv {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
