//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/yinkev/Americano-sub010/internal/api/handlers"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/jobs"
	"github.com/yinkev/Americano-sub010/internal/openai"
	"github.com/yinkev/Americano-sub010/internal/repository"
	"github.com/yinkev/Americano-sub010/internal/resilience"
	"github.com/yinkev/Americano-sub010/internal/server"
	"github.com/yinkev/Americano-sub010/internal/service"
	"github.com/yinkev/Americano-sub010/internal/storage"
	"github.com/yinkev/Americano-sub010/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	Model        *FakeModelServer
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: containers, a scripted
// model server, and the real pipeline behind the HTTP API
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	// Start PostgreSQL container
	pgC := testutil.NewPostgresContainer(ctx, t)

	// Start RustFS container
	s3C := testutil.NewRustFSContainer(ctx, t)

	// Create connection pool and run migrations
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	// Create S3 client for snapshot storage
	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-graph",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to ensure bucket: %v", err)
	}

	// Scripted stand-in for the OpenAI API
	model := NewFakeModelServer(defaultModelScript())

	serverURL, serverCloser := startServer(ctx, t, pool, s3Client, model.URL())

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		S3Client:     s3Client,
		Model:        model,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup tears down all test resources
func (env *E2ETestEnv) Cleanup() {
	if env.ServerCloser != nil {
		env.ServerCloser()
	}
	if env.Model != nil {
		env.Model.Close()
	}
	if env.Pool != nil {
		env.Pool.Close()
	}
	if env.RustFSC != nil {
		_ = env.RustFSC.Terminate(env.Ctx)
	}
	if env.PostgresC != nil {
		_ = env.PostgresC.Terminate(env.Ctx)
	}
}

// startServer wires the full production pipeline against the test containers
// and the scripted model server, and returns the server URL plus a closer.
// Retry pacing is compressed so contained-failure scenarios finish quickly;
// the breaker threshold is high enough that one bad chunk never opens it.
func startServer(ctx context.Context, t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, modelURL string) (string, func()) {
	conceptRepo := repository.NewConceptRepository(pool)
	relationshipRepo := repository.NewRelationshipRepository(pool)
	chunkRepo := repository.NewContentChunkRepository(pool)
	prereqRepo := repository.NewPrerequisiteRepository(pool)
	jobRepo := repository.NewGraphBuildJobRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	exec := resilience.NewExecutor("openai", resilience.Config{
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	}, resilience.NewBreaker(50, time.Second), rate.NewLimiter(rate.Limit(500), 500), nil)

	client := openai.NewClientWithConfig(openai.Config{
		APIKey:  "test-key",
		BaseURL: modelURL,
	})

	extractor := service.NewExtractionService(client, exec)
	deduper := service.NewDeduplicator(0.85)
	conceptStore := service.NewConceptService(conceptRepo, client, exec)
	detector := service.NewDetectionService(conceptRepo, chunkRepo, prereqRepo, service.DefaultDetectionConfig())
	edgeStore := service.NewRelationshipStoreService(txRunner)
	maintenance := service.NewMaintenanceService(conceptRepo)
	snapshots := service.NewSnapshotService(conceptRepo, relationshipRepo, s3Client)
	builder := service.NewGraphBuildServiceWithSnapshots(
		chunkRepo, extractor, deduper, conceptStore, detector, edgeStore, maintenance, snapshots,
	)
	buildJobs := service.NewBuildJobService(jobRepo)
	stats := service.NewGraphStatsService(conceptRepo, relationshipRepo)

	worker := jobs.NewWorker(jobs.NewGraphBuildWorker(jobRepo, builder), 200*time.Millisecond)
	go worker.Start(ctx)

	handler := server.NewRouter(server.RouterConfig{
		GraphHandler: handlers.NewGraphHandler(buildJobs, stats),
	})

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	addr := fmt.Sprintf("localhost:%d", port)
	httpServer := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := "http://" + addr
	waitForServer(t, serverURL, 15*time.Second)

	closer := func() {
		worker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	return serverURL, closer
}

// waitForServer polls the health endpoint until the server responds
func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not become ready within %v", url, timeout)
}

// getFreePort finds an available TCP port
func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}

// APIResponse is the standard envelope returned by the server
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Get makes a GET request to the server
func (env *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return env.doRequest(http.MethodGet, path, nil)
}

// Post makes a POST request to the server
func (env *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return env.doRequest(http.MethodPost, path, body)
}

func (env *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.ServerURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var apiResp APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &apiResp, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// BuildJobView mirrors the build job payload returned by the API
type BuildJobView struct {
	ID          string              `json:"id"`
	LectureID   string              `json:"lecture_id"`
	Status      string              `json:"status"`
	Stage       string              `json:"stage"`
	Retries     int32               `json:"retries"`
	Error       string              `json:"error"`
	Report      *domain.BuildReport `json:"report"`
	CreatedAt   string              `json:"created_at"`
	StartedAt   string              `json:"started_at"`
	ProcessedAt string              `json:"processed_at"`
}

// EnqueueBuild queues a build for the lecture and returns the pending job
func (env *E2ETestEnv) EnqueueBuild(lectureID string) *BuildJobView {
	resp, err := env.Post("/graph/builds", map[string]string{"lecture_id": lectureID})
	require.NoError(env.T, err)

	var job BuildJobView
	require.NoError(env.T, json.Unmarshal(resp.Data, &job))
	require.NotEmpty(env.T, job.ID)
	return &job
}

// WaitForBuild polls the build endpoint until the job reaches a terminal status
func (env *E2ETestEnv) WaitForBuild(jobID string, timeout time.Duration) *BuildJobView {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := env.Get("/graph/builds/" + jobID)
		require.NoError(env.T, err)

		var job BuildJobView
		require.NoError(env.T, json.Unmarshal(resp.Data, &job))

		switch job.Status {
		case string(domain.GraphBuildJobStatusCompleted), string(domain.GraphBuildJobStatusFailed):
			return &job
		}

		time.Sleep(250 * time.Millisecond)
	}

	env.T.Fatalf("build job %s did not finish within %v", jobID, timeout)
	return nil
}

// SeedChunk inserts a completed content chunk as the ingest service would
func (env *E2ETestEnv) SeedChunk(id, lectureID string, index int, text string) {
	_, err := env.Pool.Exec(env.Ctx,
		`INSERT INTO content_chunks (id, lecture_id, course_id, chunk_index, content, status)
		 VALUES ($1, $2, $3, $4, $5, 'completed')`,
		id, lectureID, "course-e2e", index, text)
	require.NoError(env.T, err)
}

// SeedObjective inserts a learning objective as the curriculum service would
func (env *E2ETestEnv) SeedObjective(id, lectureID, description string) {
	_, err := env.Pool.Exec(env.Ctx,
		`INSERT INTO learning_objectives (id, lecture_id, description) VALUES ($1, $2, $3)`,
		id, lectureID, description)
	require.NoError(env.T, err)
}

// SeedPrerequisite links two learning objectives with a confidence score
func (env *E2ETestEnv) SeedPrerequisite(fromID, toID string, confidence float64) {
	_, err := env.Pool.Exec(env.Ctx,
		`INSERT INTO objective_prerequisites (from_objective_id, to_objective_id, confidence)
		 VALUES ($1, $2, $3)`,
		fromID, toID, confidence)
	require.NoError(env.T, err)
}

// ScriptedConcept is one concept the fake model returns for a chunk
type ScriptedConcept struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// CompletionRule maps a prompt substring to an extraction payload
type CompletionRule struct {
	Match    string
	Concepts []ScriptedConcept
}

// EmbeddingRule maps an embedding input substring to a fixed vector
type EmbeddingRule struct {
	Match  string
	Vector []float32
}

// ModelScript drives the fake model server. Prompts containing a FailOn
// marker always get a 500 so retry exhaustion can be exercised.
type ModelScript struct {
	Completions []CompletionRule
	Embeddings  []EmbeddingRule
	FailOn      []string
}

// FakeModelServer is an httptest stand-in for the OpenAI API speaking the
// chat completion and embedding wire formats
type FakeModelServer struct {
	script *ModelScript
	srv    *httptest.Server
}

// NewFakeModelServer starts a fake model server driven by the script
func NewFakeModelServer(script *ModelScript) *FakeModelServer {
	f := &FakeModelServer{script: script}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", f.handleCompletion)
	mux.HandleFunc("/embeddings", f.handleEmbedding)
	f.srv = httptest.NewServer(mux)

	return f
}

// URL returns the base URL clients should use
func (f *FakeModelServer) URL() string {
	return f.srv.URL
}

// Close shuts the fake server down
func (f *FakeModelServer) Close() {
	f.srv.Close()
}

func (f *FakeModelServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user := req.Messages[len(req.Messages)-1].Content

	for _, marker := range f.script.FailOn {
		if strings.Contains(user, marker) {
			writeModelError(w, http.StatusInternalServerError, "model overloaded")
			return
		}
	}

	payload := struct {
		Concepts []ScriptedConcept `json:"concepts"`
	}{Concepts: []ScriptedConcept{}}
	for _, rule := range f.script.Completions {
		if strings.Contains(user, rule.Match) {
			payload.Concepts = rule.Concepts
			break
		}
	}

	content, err := json.Marshal(payload)
	if err != nil {
		writeModelError(w, http.StatusInternalServerError, "failed to marshal payload")
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":     "chatcmpl-fake",
		"object": "chat.completion",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]string{
					"role":    "assistant",
					"content": string(content),
				},
			},
		},
	})
}

func (f *FakeModelServer) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"object": "list",
		"model":  "text-embedding-ada-002",
		"data": []map[string]interface{}{
			{
				"object":    "embedding",
				"index":     0,
				"embedding": f.vectorFor(req.Input[0]),
			},
		},
	})
}

// vectorFor returns the scripted vector for the input, falling back to a
// deterministic one-hot vector so unscripted texts stay mutually orthogonal
func (f *FakeModelServer) vectorFor(input string) []float32 {
	for _, rule := range f.script.Embeddings {
		if strings.Contains(input, rule.Match) {
			return rule.Vector
		}
	}

	h := fnv.New32a()
	h.Write([]byte(input))
	// Skip the low indices reserved for scripted vectors
	return unitVector(16 + int(h.Sum32()%(embeddingDims-16)))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeModelError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "server_error",
		},
	})
}

const embeddingDims = 1536

// unitVector returns a one-hot embedding
func unitVector(i int) []float32 {
	v := make([]float32, embeddingDims)
	v[i%embeddingDims] = 1
	return v
}

// blendVector returns a unit embedding whose cosine similarity with
// unitVector(i) equals weight
func blendVector(i int, weight float64, j int) []float32 {
	v := make([]float32, embeddingDims)
	v[i%embeddingDims] = float32(weight)
	v[j%embeddingDims] = float32(math.Sqrt(1 - weight*weight))
	return v
}

// Lecture fixtures shared by the E2E scenarios. Chunk texts mention concept
// names verbatim so the co-occurrence signal can find them.
const (
	cardioChunk1 = "Cardiac output is the product of stroke volume and heart rate. " +
		"The frank-starling mechanism links preload to the force of contraction, " +
		"and the pericardium constrains ventricular filling."
	cardioChunk2 = "Stroke volume depends on preload, afterload, and contractility. " +
		"The frank-starling mechanism explains why a higher preload raises stroke volume."
	cardioChunk3 = "During exercise the frank-starling mechanism raises stroke volume " +
		"as venous return increases."

	renalChunk = "The nephron filters plasma at the glomerulus; filtration pressure " +
		"is set by afferent and efferent arteriolar tone."

	corruptedChunk = "Corrupted OCR segment: ~~~unreadable scan artifact~~~"
)

// defaultModelScript scripts the fake model for the lecture fixtures above.
// Stroke volume and cardiac output get near-parallel embeddings so the
// semantic signal links them; everything else stays orthogonal.
func defaultModelScript() *ModelScript {
	strokeVolume := ScriptedConcept{
		Name:        "Stroke Volume",
		Description: "Volume of blood ejected by the left ventricle per beat.",
		Category:    "physiology",
	}
	frankStarling := ScriptedConcept{
		Name:        "Frank-Starling Mechanism",
		Description: "Relationship between preload and the force of ventricular contraction.",
		Category:    "physiology",
	}

	return &ModelScript{
		Completions: []CompletionRule{
			{
				Match: "product of stroke volume",
				Concepts: []ScriptedConcept{
					{
						Name:        "Cardiac Output",
						Description: "Volume of blood pumped by the heart per minute.",
						Category:    "physiology",
					},
					strokeVolume,
					frankStarling,
					{
						Name:        "Pericardium",
						Description: "Fibroserous sac enclosing the heart.",
						Category:    "anatomy",
					},
				},
			},
			{
				Match:    "afterload, and contractility",
				Concepts: []ScriptedConcept{strokeVolume, frankStarling},
			},
			{
				Match:    "venous return increases",
				Concepts: []ScriptedConcept{frankStarling, strokeVolume},
			},
			{
				Match: "filters plasma at the glomerulus",
				Concepts: []ScriptedConcept{
					{
						Name:        "Nephron",
						Description: "Functional unit of the kidney.",
						Category:    "anatomy",
					},
					{
						Name:        "Glomerulus",
						Description: "Capillary tuft where plasma filtration begins.",
						Category:    "anatomy",
					},
				},
			},
		},
		Embeddings: []EmbeddingRule{
			{Match: "Cardiac Output:", Vector: unitVector(0)},
			{Match: "Stroke Volume:", Vector: blendVector(0, 0.97, 1)},
			{Match: "Frank-Starling Mechanism:", Vector: unitVector(2)},
			{Match: "Pericardium:", Vector: unitVector(3)},
			{Match: "Glomerulus:", Vector: unitVector(4)},
			{Match: "Nephron:", Vector: blendVector(4, 0.96, 5)},
		},
		FailOn: []string{"unreadable scan artifact"},
	}
}
