package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// CompletionClient defines the interface for chat completion calls
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, system, user string) (string, error)
}

// ModelExecutor applies retry, rate-limit, and circuit-breaker policy to model calls
type ModelExecutor interface {
	Do(ctx context.Context, op string, fn func(context.Context) error) error
}

const extractionSystemPrompt = `You are a medical education expert. Extract the key concepts taught by the provided lecture excerpt.

Return ONLY a JSON object of the form:
{"concepts": [{"name": "...", "description": "...", "category": "..."}]}

Rules:
- Extract between 5 and 15 concepts. Fewer is acceptable for short or sparse excerpts.
- "name" is the canonical term for the concept (for example "cardiac output"), not a sentence.
- "description" is one or two sentences defining the concept as taught in the excerpt.
- "category" is one of: anatomy, physiology, pathology, pharmacology, biochemistry, microbiology, immunology, clinical.
- Do not include commentary, markdown, or any text outside the JSON object.`

// ExtractionService extracts concept candidates from lecture content chunks
type ExtractionService struct {
	client CompletionClient
	exec   ModelExecutor
}

// NewExtractionService creates a new ExtractionService instance
func NewExtractionService(client CompletionClient, exec ModelExecutor) *ExtractionService {
	return &ExtractionService{
		client: client,
		exec:   exec,
	}
}

// ExtractConcepts runs one completion call for the chunk and parses the result.
// The model call goes through the executor; parsing happens after the call
// succeeds, so a malformed response is never retried.
func (s *ExtractionService) ExtractConcepts(ctx context.Context, chunk *domain.ContentChunk) ([]domain.ConceptCandidate, error) {
	ctx, span := telemetry.StartSpan(ctx, "ExtractionService.ExtractConcepts", telemetry.SpanAttributes{
		LectureID: chunk.LectureID,
		Operation: "extract",
	})
	defer span.End()

	user := fmt.Sprintf("Lecture excerpt:\n\n%s", chunk.Text)

	var raw string
	err := s.exec.Do(ctx, "completion", func(ctx context.Context) error {
		out, err := s.client.GenerateCompletion(ctx, extractionSystemPrompt, user)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseCandidates(raw)
}

var reasoningBlockRe = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)

// stripReasoning removes chain-of-thought blocks some models emit before the answer.
func stripReasoning(s string) string {
	return reasoningBlockRe.ReplaceAllString(s, "")
}

// extractFirstJSONObject returns the first balanced JSON object in s.
// Braces inside string literals do not affect the balance.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseCandidates decodes the model response into concept candidates.
// Names are canonicalized, candidates with empty names are skipped and
// unknown categories fall back to clinical.
func parseCandidates(raw string) ([]domain.ConceptCandidate, error) {
	obj, ok := extractFirstJSONObject(stripReasoning(raw))
	if !ok {
		return nil, domain.ErrNoExtractableJSON
	}

	var parsed struct {
		Concepts []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Category    string `json:"category"`
		} `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoExtractableJSON, err)
	}
	if parsed.Concepts == nil {
		return nil, fmt.Errorf("%w: object has no concepts array", domain.ErrNoExtractableJSON)
	}

	candidates := make([]domain.ConceptCandidate, 0, len(parsed.Concepts))
	for _, c := range parsed.Concepts {
		name := domain.CanonicalConceptName(c.Name)
		if name == "" {
			continue
		}
		candidates = append(candidates, domain.ConceptCandidate{
			Name:        name,
			Description: strings.TrimSpace(c.Description),
			Category:    domain.NormalizeCategory(c.Category),
		})
	}

	return candidates, nil
}
