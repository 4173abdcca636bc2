package usecase

import (
	"unicode/utf8"
)

const (
	runesPerToken   = 4
	minContextChunk = 256
)

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + runesPerToken - 1) / runesPerToken
}

// contextBudget is the number of tokens left for context text once the
// template, the output allowance and an existing answer are accounted for.
func contextBudget(contextWindow, maxTokens int, templateOverhead string) int {
	budget := contextWindow - 2*maxTokens - estimateTokens(templateOverhead)
	if budget < minContextChunk {
		return minContextChunk
	}
	return budget
}

// packTexts groups consecutive texts into batches that fit budget tokens.
// A single text over budget is truncated to fit its own batch.
func packTexts(texts []string, budget int) [][]string {
	var out [][]string
	var current []string
	used := 0
	for _, text := range texts {
		n := estimateTokens(text)
		if n > budget {
			text = truncateTokens(text, budget)
			n = budget
		}
		if len(current) > 0 && used+n > budget {
			out = append(out, current)
			current = nil
			used = 0
		}
		current = append(current, text)
		used += n
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func truncateTokens(text string, tokens int) string {
	limit := tokens * runesPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
