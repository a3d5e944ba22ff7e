package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/resilience"
)

// MockCompletionClient is a mock implementation of CompletionClient
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) GenerateCompletion(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

// passthroughExecutor runs calls once with no retry policy
type passthroughExecutor struct{}

func (passthroughExecutor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	return fn(ctx)
}

func testChunk(text string) *domain.ContentChunk {
	return domain.NewContentChunk("chunk-1", "lecture-1", "course-1", 0, text, domain.ChunkStatusCompleted, time.Now().UTC())
}

func TestExtractionService_ExtractConcepts(t *testing.T) {
	ctx := context.Background()

	t.Run("parses a clean response into candidates", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		chunk := testChunk("The cardiac cycle consists of systole and diastole.")
		raw := `{"concepts": [
			{"name": "Cardiac Output", "description": "Volume of blood pumped per minute.", "category": "physiology"},
			{"name": "Stroke Volume", "description": "Volume pumped per beat.", "category": "physiology"}
		]}`

		mockClient.On("GenerateCompletion", mock.Anything, extractionSystemPrompt, mock.MatchedBy(func(user string) bool {
			return strings.Contains(user, chunk.Text)
		})).Return(raw, nil)

		candidates, err := service.ExtractConcepts(ctx, chunk)

		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, "Cardiac Output", candidates[0].Name)
		assert.Equal(t, "Volume of blood pumped per minute.", candidates[0].Description)
		assert.Equal(t, domain.ConceptCategoryPhysiology, candidates[0].Category)
		assert.Equal(t, "Stroke Volume", candidates[1].Name)
		mockClient.AssertExpectations(t)
	})

	t.Run("parses output wrapped in prose and markdown fences", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		raw := "Here are the extracted concepts:\n```json\n{\"concepts\": [{\"name\": \"Nephron\", \"description\": \"Functional unit of the kidney.\", \"category\": \"anatomy\"}]}\n```\nLet me know if you need more."
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(raw, nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("kidney anatomy"))

		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "Nephron", candidates[0].Name)
	})

	t.Run("strips reasoning blocks before parsing", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		raw := "<think>\nthe excerpt covers {renal} physiology, maybe {5} concepts\n</think>\n{\"concepts\": [{\"name\": \"Glomerular Filtration Rate\", \"description\": \"Filtrate volume per minute.\", \"category\": \"physiology\"}]}"
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(raw, nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("renal physiology"))

		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "Glomerular Filtration Rate", candidates[0].Name)
	})

	t.Run("normalizes unknown categories to clinical and skips empty names", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		raw := `{"concepts": [
			{"name": "Beta Blocker", "description": "Adrenergic antagonist.", "category": "drugs"},
			{"name": "   ", "description": "no name", "category": "anatomy"},
			{"name": "Myocardial Infarction", "description": "Heart muscle death.", "category": "PATHOLOGY"}
		]}`
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(raw, nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("cardiology"))

		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, domain.ConceptCategoryClinical, candidates[0].Category)
		assert.Equal(t, domain.ConceptCategoryPathology, candidates[1].Category)
	})

	t.Run("canonicalizes candidate names", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		raw := `{"concepts": [
			{"name": "  Cardiac  Output ", "description": "Volume per minute.", "category": "physiology"},
			{"name": "Frank-Starling\tMechanism", "description": "Preload relation.", "category": "physiology"}
		]}`
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(raw, nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("cardiac physiology"))

		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, "Cardiac Output", candidates[0].Name)
		assert.Equal(t, "Frank-Starling Mechanism", candidates[1].Name)
	})

	t.Run("returns zero candidates for a valid empty object", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(`{"concepts": []}`, nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("administrative announcements"))

		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("returns ErrNoExtractableJSON when the object has no concepts array", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(`{"topics": ["cardiac output"]}`, nil)

		_, err := service.ExtractConcepts(ctx, testChunk("text"))

		assert.ErrorIs(t, err, domain.ErrNoExtractableJSON)
	})

	t.Run("returns ErrNoExtractableJSON when the response has no object", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return("Sorry, I cannot extract concepts from this text.", nil)

		candidates, err := service.ExtractConcepts(ctx, testChunk("text"))

		assert.Nil(t, candidates)
		assert.ErrorIs(t, err, domain.ErrNoExtractableJSON)
	})

	t.Run("returns ErrNoExtractableJSON for malformed JSON", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(`{"concepts": [{"name": }`, nil)

		_, err := service.ExtractConcepts(ctx, testChunk("text"))

		assert.ErrorIs(t, err, domain.ErrNoExtractableJSON)
	})

	t.Run("propagates completion errors", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		service := NewExtractionService(mockClient, passthroughExecutor{})

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("model unavailable"))

		candidates, err := service.ExtractConcepts(ctx, testChunk("text"))

		assert.Nil(t, candidates)
		assert.ErrorContains(t, err, "model unavailable")
	})

	t.Run("retries transient failures through the executor", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		exec := resilience.NewExecutor("openai", resilience.Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}, resilience.NewBreaker(5, time.Minute), nil, nil)
		service := NewExtractionService(mockClient, exec)

		rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limited"}
		raw := `{"concepts": [{"name": "Acetylcholine", "description": "Neurotransmitter.", "category": "biochemistry"}]}`
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return("", rateLimited).Twice()
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return(raw, nil).Once()

		candidates, err := service.ExtractConcepts(ctx, testChunk("neurotransmitters"))

		require.NoError(t, err)
		require.Len(t, candidates, 1)
		mockClient.AssertNumberOfCalls(t, "GenerateCompletion", 3)
	})

	t.Run("does not retry a malformed response", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		exec := resilience.NewExecutor("openai", resilience.Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}, resilience.NewBreaker(5, time.Minute), nil, nil)
		service := NewExtractionService(mockClient, exec)

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, mock.Anything).Return("no json here", nil)

		_, err := service.ExtractConcepts(ctx, testChunk("text"))

		assert.ErrorIs(t, err, domain.ErrNoExtractableJSON)
		mockClient.AssertNumberOfCalls(t, "GenerateCompletion", 1)
	})

	t.Run("accounts for every completion call across a mixed batch", func(t *testing.T) {
		mockClient := new(MockCompletionClient)
		exec := resilience.NewExecutor("openai", resilience.Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}, resilience.NewBreaker(5, time.Minute), nil, nil)
		service := NewExtractionService(mockClient, exec)

		clean := testChunk("systole and diastole")
		flaky := testChunk("preload and afterload")
		broken := testChunk("illegible slide scan")

		forChunk := func(chunk *domain.ContentChunk) interface{} {
			return mock.MatchedBy(func(user string) bool {
				return strings.Contains(user, chunk.Text)
			})
		}
		rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limited"}

		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, forChunk(clean)).
			Return(`{"concepts": [{"name": "Systole", "description": "Contraction phase.", "category": "physiology"}]}`, nil).Once()
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, forChunk(flaky)).
			Return("", rateLimited).Once()
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, forChunk(flaky)).
			Return(`{"concepts": [{"name": "Preload", "description": "End-diastolic stretch.", "category": "physiology"}]}`, nil).Once()
		mockClient.On("GenerateCompletion", mock.Anything, mock.Anything, forChunk(broken)).
			Return("the slide was unreadable", nil).Once()

		var candidates []domain.ConceptCandidate
		failed := 0
		for _, chunk := range []*domain.ContentChunk{clean, flaky, broken} {
			got, err := service.ExtractConcepts(ctx, chunk)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNoExtractableJSON)
				failed++
				continue
			}
			candidates = append(candidates, got...)
		}

		assert.Len(t, candidates, 2)
		assert.Equal(t, 1, failed)
		mockClient.AssertNumberOfCalls(t, "GenerateCompletion", 4)
		mockClient.AssertExpectations(t)
	})
}

func TestExtractFirstJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "object with leading and trailing prose",
			input: `Sure! {"a": 1} Hope that helps.`,
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "nested objects",
			input: `{"a": {"b": {"c": 1}}} extra`,
			want:  `{"a": {"b": {"c": 1}}}`,
			found: true,
		},
		{
			name:  "braces inside string literals",
			input: `{"a": "closing } brace", "b": "{"}`,
			want:  `{"a": "closing } brace", "b": "{"}`,
			found: true,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"a": "quote \" and } brace"}`,
			want:  `{"a": "quote \" and } brace"}`,
			found: true,
		},
		{
			name:  "no object at all",
			input: "just some text",
			found: false,
		},
		{
			name:  "unterminated object",
			input: `{"a": {"b": 1}`,
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := extractFirstJSONObject(tt.input)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "removes think block",
			input: "<think>internal notes</think>answer",
			want:  "answer",
		},
		{
			name:  "removes thinking block",
			input: "<thinking>step 1\nstep 2</thinking>answer",
			want:  "answer",
		},
		{
			name:  "case insensitive tags",
			input: "<THINK>notes</THINK>answer",
			want:  "answer",
		},
		{
			name:  "no reasoning block",
			input: "plain answer",
			want:  "plain answer",
		},
		{
			name:  "multiple blocks",
			input: "<think>a</think>first<think>b</think>second",
			want:  "firstsecond",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripReasoning(tt.input))
		})
	}
}
