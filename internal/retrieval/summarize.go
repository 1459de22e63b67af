package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

const maxLeadLen = 220

// Summarize builds an extractive summary from the lead sentence of each
// passage, strongest first. It returns the passages it cited, in citation
// order, deduplicated by source.
func Summarize(symbol, window string, passages []models.Passage, maxItems int) (string, []models.Passage) {
	ranked := make([]models.Passage, len(passages))
	copy(ranked, passages)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	cited := []models.Passage{}
	leads := []string{}
	seen := map[string]bool{}
	for _, p := range ranked {
		if maxItems > 0 && len(cited) >= maxItems {
			break
		}
		if seen[p.SourceRef] {
			continue
		}
		lead := leadSentence(p.Text)
		if lead == "" {
			continue
		}
		seen[p.SourceRef] = true
		cited = append(cited, p)
		leads = append(leads, fmt.Sprintf("%s [%d]", lead, len(cited)))
	}
	if len(cited) == 0 {
		return "", cited
	}
	text := fmt.Sprintf("%s, last %s: %s.", strings.ToUpper(symbol), window, strings.Join(leads, "; "))
	return text, cited
}

func leadSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if i := strings.Index(text, ". "); i > 0 {
		text = text[:i]
	}
	text = strings.TrimRight(text, ".!?;: ")
	if len(text) > maxLeadLen {
		cut := strings.LastIndex(text[:maxLeadLen], " ")
		if cut <= 0 {
			cut = maxLeadLen
		}
		text = text[:cut] + "..."
	}
	return text
}
