package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/google/uuid"
)

// Artifact is the unit of data flowing through the pipeline. Each
// stage consumes the previous stage's artifact and returns an enriched
// one; the orchestrator persists the relevant fields before the next
// stage starts.
type Artifact struct {
	ContractID string
	Tenant     string
	ObjectName string
	Filename   string
	RawText    string
	Clauses    []model.Clause
}

// StageAdapter wraps one processing capability behind a uniform
// contract. Errors must be *model.StageError so the orchestrator can
// tell retryable failures from fatal ones.
type StageAdapter interface {
	Name() string
	Run(ctx context.Context, art *Artifact) (*Artifact, error)
}

// FileFetcher retrieves the original uploaded file from the document
// store. Implemented by MinioService.
type FileFetcher interface {
	FetchFile(ctx context.Context, objectName string) ([]byte, error)
}

// ExtractionStage downloads the original file and extracts its text.
type ExtractionStage struct {
	fetcher FileFetcher
}

func NewExtractionStage(fetcher FileFetcher) *ExtractionStage {
	return &ExtractionStage{fetcher: fetcher}
}

func (s *ExtractionStage) Name() string { return model.StageExtraction }

func (s *ExtractionStage) Run(ctx context.Context, art *Artifact) (*Artifact, error) {
	data, err := s.fetcher.FetchFile(ctx, art.ObjectName)
	if err != nil {
		// Document store hiccups are worth retrying.
		return nil, model.NewTransientStageError(s.Name(), "failed to fetch document", err)
	}

	text, err := ExtractText(art.Filename, data)
	if err != nil {
		// A file we cannot parse will not parse better next time.
		return nil, model.NewFatalStageError(s.Name(), "failed to extract text", err)
	}

	out := *art
	out.RawText = text
	return &out, nil
}

// headingRe matches clause headings: numbered sections ("1.", "2)"),
// roman numerals, lettered sections and ALL-CAPS titles.
var headingRe = regexp.MustCompile(`^(?:(?:\d+(?:\.\d+)*|[IVXLC]+|[A-Z])[.)]\s+\S.*|[A-Z][A-Z0-9 ,&'\-]{3,})$`)

// blockRe splits raw text into paragraph blocks.
var blockRe = regexp.MustCompile(`\n\s*\n`)

// SegmentationStage splits the extracted text into addressable
// clauses. Paragraph blocks become clauses; a leading line that looks
// like a section marker becomes the clause heading.
type SegmentationStage struct{}

func NewSegmentationStage() *SegmentationStage { return &SegmentationStage{} }

func (s *SegmentationStage) Name() string { return model.StageSegmentation }

func (s *SegmentationStage) Run(ctx context.Context, art *Artifact) (*Artifact, error) {
	clauses := SegmentClauses(art.ContractID, art.RawText)
	if len(clauses) == 0 {
		return nil, model.NewFatalStageError(s.Name(), "document produced no clauses", nil)
	}

	out := *art
	out.Clauses = clauses
	return &out, nil
}

// SegmentClauses splits raw text into positioned clauses.
func SegmentClauses(contractID, raw string) []model.Clause {
	var clauses []model.Clause
	for _, block := range blockRe.Split(raw, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		var heading string
		lines := strings.SplitN(block, "\n", 2)
		if len(lines) == 2 && headingRe.MatchString(strings.TrimSpace(lines[0])) {
			heading = strings.TrimSpace(lines[0])
			block = strings.TrimSpace(lines[1])
			if block == "" {
				// Bare heading with no body: keep the heading text as
				// the clause text so the position stays addressable.
				block = heading
			}
		}

		clauses = append(clauses, model.Clause{
			ID:         uuid.New().String(),
			ContractID: contractID,
			Position:   len(clauses) + 1,
			Heading:    heading,
			Text:       block,
		})
	}
	return clauses
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// NormalizationStage cleans up clause text: whitespace collapsing,
// typographic character normalization, dropping clauses that end up
// empty. Positions are re-sequenced so they stay a dense 1-based
// ordinal.
type NormalizationStage struct{}

func NewNormalizationStage() *NormalizationStage { return &NormalizationStage{} }

func (s *NormalizationStage) Name() string { return model.StageNormalization }

func (s *NormalizationStage) Run(ctx context.Context, art *Artifact) (*Artifact, error) {
	normalized := make([]model.Clause, 0, len(art.Clauses))
	for _, clause := range art.Clauses {
		clause.Text = NormalizeText(clause.Text)
		clause.Heading = NormalizeText(clause.Heading)
		if clause.Text == "" {
			continue
		}
		clause.Position = len(normalized) + 1
		normalized = append(normalized, clause)
	}

	if len(normalized) == 0 {
		return nil, model.NewFatalStageError(s.Name(), "no clauses left after normalization", nil)
	}

	out := *art
	out.Clauses = normalized
	return &out, nil
}

var typographicReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"–", "-", "—", "-",
	" ", " ",
)

// NormalizeText standardizes whitespace and typographic characters.
func NormalizeText(text string) string {
	text = typographicReplacer.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = whitespaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// EmbeddingStage embeds every clause and writes the vectors into the
// vector index. The same embedder is reused by the query engine, which
// keeps query and clause vectors in the same embedding space.
type EmbeddingStage struct {
	embedder Embedder
	index    VectorIndex
}

func NewEmbeddingStage(embedder Embedder, index VectorIndex) *EmbeddingStage {
	return &EmbeddingStage{embedder: embedder, index: index}
}

func (s *EmbeddingStage) Name() string { return model.StageEmbedding }

func (s *EmbeddingStage) Run(ctx context.Context, art *Artifact) (*Artifact, error) {
	clauses := append([]model.Clause(nil), art.Clauses...)
	vectors := make([][]float32, len(clauses))

	for i := range clauses {
		vec, err := s.embedder.Embed(ctx, clauses[i].Text)
		if err != nil {
			return nil, s.classify(fmt.Sprintf("failed to embed clause %d", clauses[i].Position), err)
		}
		vectors[i] = vec
		clauses[i].EmbeddingRef = uuid.New().String()
	}

	if err := s.index.Upsert(ctx, art.ContractID, clauses, vectors); err != nil {
		return nil, model.NewTransientStageError(s.Name(), "failed to write vector index", err)
	}

	out := *art
	out.Clauses = clauses
	return &out, nil
}

func (s *EmbeddingStage) classify(msg string, err error) error {
	if IsTransientProviderError(err) {
		return model.NewTransientStageError(s.Name(), msg, err)
	}
	return model.NewFatalStageError(s.Name(), msg, err)
}
