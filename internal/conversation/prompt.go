package conversation

import (
	"fmt"
	"strings"

	"github.com/54b3r/paperrag/internal/rag"
)

// DefaultSystemPrompt grounds the assistant in retrieved abstracts.
const DefaultSystemPrompt = `You are a research assistant for a conference programme. You answer
questions about the accepted papers using only the paper abstracts supplied to you
in the "Retrieved papers" message of each turn.

Rules:
- Cite papers by their exact title when you rely on them.
- If the retrieved papers do not answer the question, say so plainly. Do not invent
  papers, authors, sessions or results.
- When several papers are relevant, compare them briefly rather than summarising each
  one in full.
- Keep answers concise; prefer a short paragraph or a bulleted list.`

// noPapersMarker replaces the context block when retrieval found nothing.
const noPapersMarker = `## Retrieved papers

No matching papers were found in the index for this question. Tell the user that
nothing relevant was retrieved. Do not answer from memory or invent papers.`

// buildContextBlock renders retrieved papers in rank order as a header
// (title, authors, session) followed by the abstract.
func buildContextBlock(papers []rag.ScoredPaper) string {
	if len(papers) == 0 {
		return noPapersMarker
	}
	var sb strings.Builder
	sb.WriteString("## Retrieved papers\n\n")
	sb.WriteString("The following abstracts were retrieved for the user's question, most relevant first.\n\n")
	for _, sp := range papers {
		p := sp.Paper
		fmt.Fprintf(&sb, "### [%d] %s\n", sp.Rank, p.Title)
		fmt.Fprintf(&sb, "Authors: %s\n", p.AuthorLine())
		if p.Session != "" {
			fmt.Fprintf(&sb, "Session: %s\n", p.Session)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(p.Abstract))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
