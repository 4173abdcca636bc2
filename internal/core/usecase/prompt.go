package usecase

import (
	"fmt"
	"strings"
)

func buildQAPrompt(query, contextText string) string {
	return fmt.Sprintf(`Context information is below.
---------------------
%s
---------------------
Using only the context information and no prior knowledge, answer the query.
Query: %s
Answer: `, contextText, query)
}

func buildRefinePrompt(query, existingAnswer, contextText string) string {
	return fmt.Sprintf(`The original query is: %s
An existing answer was produced from earlier context:
%s
Refine the existing answer using the additional context below, only if it is useful.
---------------------
%s
---------------------
If the additional context does not help, repeat the existing answer unchanged.
Refined answer: `, query, existingAnswer, contextText)
}

func buildSummaryPrompt(query, contextText string) string {
	return fmt.Sprintf(`Context information from multiple sources is below.
---------------------
%s
---------------------
Using the information from all sources and no prior knowledge, answer the query.
Query: %s
Answer: `, contextText, query)
}

func joinContext(texts []string) string {
	return strings.Join(texts, "\n\n")
}
