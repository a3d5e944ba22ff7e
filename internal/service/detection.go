package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// PrerequisiteRepositoryInterface defines the repository interface for external prerequisite edges
type PrerequisiteRepositoryInterface interface {
	ListEdges(ctx context.Context) ([]*domain.PrerequisiteEdge, error)
}

const (
	signalSemantic     = "semantic"
	signalCooccurrence = "cooccurrence"
	signalPrerequisite = "prerequisite"

	// Weight bands per signal. A single signal never saturates an edge.
	semanticWeight     = 0.4
	cooccurrenceWeight = 0.3
	prerequisiteWeight = 0.3

	// Shared-chunk count at which the co-occurrence signal saturates.
	cooccurrenceCap = 10.0

	// Token coverage required to match objective text to a concept name.
	objectiveCoverage = 0.8
)

// DetectionConfig tunes the three relationship signals
type DetectionConfig struct {
	SemanticThreshold float64 // minimum cosine similarity for RELATED edges
	SemanticNeighbors int     // nearest neighbors fetched per concept
	CooccurrenceMin   int     // minimum shared chunks for INTEGRATED edges
}

// DefaultDetectionConfig returns the production detection thresholds
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		SemanticThreshold: 0.75,
		SemanticNeighbors: 10,
		CooccurrenceMin:   3,
	}
}

// SignalFailure records one signal generator that could not complete
type SignalFailure struct {
	Signal string
	Reason string
}

// DetectionResult carries the edges found by all signals plus contained failures
type DetectionResult struct {
	Edges    []*domain.ConceptRelationship
	Failures []SignalFailure
}

// DetectionService finds relationships between stored concepts using three
// independent signals: semantic similarity over embeddings, co-occurrence in
// lecture content, and projection of the external prerequisite graph.
type DetectionService struct {
	concepts ConceptRepositoryInterface
	chunks   ChunkRepositoryInterface
	prereqs  PrerequisiteRepositoryInterface
	cfg      DetectionConfig
}

// NewDetectionService creates a new DetectionService instance
func NewDetectionService(
	concepts ConceptRepositoryInterface,
	chunks ChunkRepositoryInterface,
	prereqs PrerequisiteRepositoryInterface,
	cfg DetectionConfig,
) *DetectionService {
	if cfg.SemanticNeighbors <= 0 {
		cfg.SemanticNeighbors = 10
	}
	if cfg.CooccurrenceMin <= 0 {
		cfg.CooccurrenceMin = 3
	}
	if cfg.SemanticThreshold <= 0 || cfg.SemanticThreshold >= 1 {
		cfg.SemanticThreshold = 0.75
	}
	return &DetectionService{
		concepts: concepts,
		chunks:   chunks,
		prereqs:  prereqs,
		cfg:      cfg,
	}
}

// Detect runs the three signal generators concurrently over the full persisted
// concept set. A failing signal is recorded and the others still contribute;
// only the initial concept listing aborts the pass.
func (s *DetectionService) Detect(ctx context.Context, lectureID string) (*DetectionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "DetectionService.Detect", telemetry.SpanAttributes{
		LectureID: lectureID,
		Operation: "detect",
	})
	defer span.End()

	concepts, err := s.concepts.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(concepts) < 2 {
		return &DetectionResult{}, nil
	}

	var mu sync.Mutex
	result := &DetectionResult{}
	collect := func(signal string, edges []*domain.ConceptRelationship, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures = append(result.Failures, SignalFailure{Signal: signal, Reason: err.Error()})
			return
		}
		result.Edges = append(result.Edges, edges...)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		edges, err := s.semanticEdges(ctx)
		collect(signalSemantic, edges, err)
	}()
	go func() {
		defer wg.Done()
		edges, err := s.cooccurrenceEdges(ctx, lectureID, concepts)
		collect(signalCooccurrence, edges, err)
	}()
	go func() {
		defer wg.Done()
		edges, err := s.prerequisiteEdges(ctx, concepts)
		collect(signalPrerequisite, edges, err)
	}()
	wg.Wait()

	sortEdges(result.Edges)
	return result, nil
}

// semanticEdges emits a RELATED edge for each concept pair whose embeddings
// fall within the cosine-similarity threshold.
func (s *DetectionService) semanticEdges(ctx context.Context) ([]*domain.ConceptRelationship, error) {
	ids, err := s.concepts.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	maxDistance := 1 - s.cfg.SemanticThreshold
	set := newEdgeSet()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		neighbors, err := s.concepts.NearestNeighbors(ctx, id, maxDistance, s.cfg.SemanticNeighbors)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			strength := semanticStrength(n.Similarity, s.cfg.SemanticThreshold)
			if strength <= 0 {
				continue
			}
			set.add(symmetricEdge(id, n.ConceptID, domain.RelationshipTypeRelated, strength))
		}
	}
	return set.list(), nil
}

// cooccurrenceEdges emits an INTEGRATED edge for each concept pair mentioned
// together in enough chunks. Membership is built once as an inverted index of
// concept to chunk set, then pairs are counted by set intersection.
func (s *DetectionService) cooccurrenceEdges(ctx context.Context, lectureID string, concepts []*domain.Concept) ([]*domain.ConceptRelationship, error) {
	chunks, err := s.chunks.ListCompleted(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	normTexts := make([]string, len(chunks))
	for i, ch := range chunks {
		normTexts[i] = domain.NormalizeConceptName(ch.Text)
	}

	mentions := make(map[string][]int, len(concepts))
	ids := make([]string, 0, len(concepts))
	for _, c := range concepts {
		name := domain.NormalizeConceptName(c.Name)
		if name == "" {
			continue
		}
		for j, text := range normTexts {
			if strings.Contains(text, name) {
				mentions[c.ID] = append(mentions[c.ID], j)
			}
		}
		if len(mentions[c.ID]) > 0 {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)

	set := newEdgeSet()
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			shared := intersectCount(mentions[ids[i]], mentions[ids[j]])
			if shared < s.cfg.CooccurrenceMin {
				continue
			}
			set.add(symmetricEdge(ids[i], ids[j], domain.RelationshipTypeIntegrated, cooccurrenceStrength(shared)))
		}
	}
	return set.list(), nil
}

// prerequisiteEdges projects the external objective-level prerequisite graph
// onto concepts by matching objective text to concept names. Direction is
// preserved: prerequisite concept -> dependent concept.
func (s *DetectionService) prerequisiteEdges(ctx context.Context, concepts []*domain.Concept) ([]*domain.ConceptRelationship, error) {
	external, err := s.prereqs.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	if len(external) == 0 {
		return nil, nil
	}

	set := newEdgeSet()
	for _, e := range external {
		from := matchConcept(e.FromText, concepts)
		to := matchConcept(e.ToText, concepts)
		if from == "" || to == "" || from == to {
			continue
		}
		set.add(&domain.ConceptRelationship{
			FromConceptID: from,
			ToConceptID:   to,
			Type:          domain.RelationshipTypePrerequisite,
			Strength:      e.Confidence * prerequisiteWeight,
		})
	}
	return set.list(), nil
}

// matchConcept maps descriptive text to a concept whose name the text
// contains, preferring the longest contained name, falling back to token
// coverage when no name is contained outright.
func matchConcept(text string, concepts []*domain.Concept) string {
	bestID := ""
	bestLen := 0
	for _, c := range concepts {
		if !domain.ContainsConceptName(text, c.Name) {
			continue
		}
		if l := len(domain.NormalizeConceptName(c.Name)); l > bestLen {
			bestID = c.ID
			bestLen = l
		}
	}
	if bestID != "" {
		return bestID
	}

	bestCoverage := 0.0
	for _, c := range concepts {
		cov := domain.TokenCoverage(text, c.Name)
		if cov >= objectiveCoverage && cov > bestCoverage {
			bestID = c.ID
			bestCoverage = cov
		}
	}
	return bestID
}

// semanticStrength maps similarity above the threshold into the RELATED band.
func semanticStrength(similarity, threshold float64) float64 {
	if threshold >= 1 {
		return 0
	}
	scaled := (similarity - threshold) / (1 - threshold)
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 1 {
		scaled = 1
	}
	return scaled * semanticWeight
}

// cooccurrenceStrength saturates at cooccurrenceCap shared chunks.
func cooccurrenceStrength(count int) float64 {
	scaled := float64(count) / cooccurrenceCap
	if scaled > 1 {
		scaled = 1
	}
	return scaled * cooccurrenceWeight
}

// symmetricEdge canonicalizes an undirected pair so from holds the smaller id.
func symmetricEdge(a, b string, relType domain.RelationshipType, strength float64) *domain.ConceptRelationship {
	if b < a {
		a, b = b, a
	}
	return &domain.ConceptRelationship{
		FromConceptID: a,
		ToConceptID:   b,
		Type:          relType,
		Strength:      strength,
	}
}

// edgeSet accumulates edges keyed by (from, to, type), keeping the strongest.
type edgeSet struct {
	edges map[string]*domain.ConceptRelationship
}

func newEdgeSet() *edgeSet {
	return &edgeSet{edges: make(map[string]*domain.ConceptRelationship)}
}

func (s *edgeSet) add(e *domain.ConceptRelationship) {
	key := e.FromConceptID + "|" + e.ToConceptID + "|" + string(e.Type)
	if prev, ok := s.edges[key]; ok {
		if e.Strength > prev.Strength {
			prev.Strength = e.Strength
		}
		return
	}
	s.edges[key] = e
}

func (s *edgeSet) list() []*domain.ConceptRelationship {
	out := make([]*domain.ConceptRelationship, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []*domain.ConceptRelationship) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromConceptID != edges[j].FromConceptID {
			return edges[i].FromConceptID < edges[j].FromConceptID
		}
		if edges[i].ToConceptID != edges[j].ToConceptID {
			return edges[i].ToConceptID < edges[j].ToConceptID
		}
		return edges[i].Type < edges[j].Type
	})
}

func intersectCount(a, b []int) int {
	count := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			count++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return count
}
