package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

const sampleContractText = `SERVICE AGREEMENT

1. PARTIES
This Agreement is made between Acme Corp ("Provider") and
Widget LLC ("Client").

2. PAYMENT
Client shall pay Provider within   thirty (30) days of invoice.

3. TERMINATION
Either party may terminate this Agreement upon 30 days' written notice.`

func TestSegmentClauses(t *testing.T) {
	clauses := SegmentClauses("contract-1", sampleContractText)

	if len(clauses) != 4 {
		t.Fatalf("Expected 4 clauses, got %d", len(clauses))
	}

	for i, c := range clauses {
		if c.Position != i+1 {
			t.Errorf("Expected position %d, got %d", i+1, c.Position)
		}
		if c.ContractID != "contract-1" {
			t.Errorf("Expected contract ID set, got %q", c.ContractID)
		}
		if c.ID == "" {
			t.Error("Expected clause ID assigned")
		}
	}

	if clauses[1].Heading != "1. PARTIES" {
		t.Errorf("Expected numbered heading detected, got %q", clauses[1].Heading)
	}
	if !strings.Contains(clauses[1].Text, "Acme Corp") {
		t.Errorf("Expected clause body under heading, got %q", clauses[1].Text)
	}
	if clauses[0].Heading != "" || clauses[0].Text != "SERVICE AGREEMENT" {
		t.Errorf("Expected bare title block kept as clause text, got %+v", clauses[0])
	}
}

func TestSegmentClausesEmptyInput(t *testing.T) {
	if got := SegmentClauses("c", "   \n\n  "); len(got) != 0 {
		t.Errorf("Expected no clauses from blank text, got %d", len(got))
	}
}

func TestSegmentationStageFatalOnEmpty(t *testing.T) {
	stage := NewSegmentationStage()
	_, err := stage.Run(context.Background(), &Artifact{ContractID: "c", RawText: ""})

	se, ok := model.AsStageError(err)
	if !ok {
		t.Fatalf("Expected StageError, got %v", err)
	}
	if se.Transient {
		t.Error("Expected empty document to be a fatal failure")
	}
	if se.Stage != model.StageSegmentation {
		t.Errorf("Expected stage SEGMENTATION, got %s", se.Stage)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "pay  within   thirty days", "pay within thirty days"},
		{"trims lines", "  line one  \n  line two  ", "line one\nline two"},
		{"drops blank lines", "a\n\n\nb", "a\nb"},
		{"smart quotes", "“notice” and ‘cure’", `"notice" and 'cure'`},
		{"dashes", "30–60 days — net", "30-60 days - net"},
		{"carriage returns", "a\r\nb\rc", "a\nb\nc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizationStageDropsEmptyAndRenumbers(t *testing.T) {
	stage := NewNormalizationStage()
	art := &Artifact{
		ContractID: "c",
		Clauses: []model.Clause{
			{Position: 1, Text: "  first clause  "},
			{Position: 2, Text: "   \n  "},
			{Position: 3, Text: "third   clause"},
		},
	}

	out, err := stage.Run(context.Background(), art)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(out.Clauses) != 2 {
		t.Fatalf("Expected 2 clauses after normalization, got %d", len(out.Clauses))
	}
	if out.Clauses[0].Text != "first clause" || out.Clauses[0].Position != 1 {
		t.Errorf("Unexpected first clause: %+v", out.Clauses[0])
	}
	if out.Clauses[1].Text != "third clause" || out.Clauses[1].Position != 2 {
		t.Errorf("Expected positions re-sequenced, got %+v", out.Clauses[1])
	}

	// Input artifact must stay untouched.
	if art.Clauses[2].Position != 3 {
		t.Error("Expected input clauses not to be mutated")
	}
}

// stubEmbedder returns a fixed vector, or an error after a set number
// of calls.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func TestEmbeddingStage(t *testing.T) {
	index := NewMemoryIndex()
	embedder := &stubEmbedder{vector: []float32{1, 0, 0}}
	stage := NewEmbeddingStage(embedder, index)

	art := &Artifact{
		ContractID: "c1",
		Clauses: []model.Clause{
			{Position: 1, Text: "first"},
			{Position: 2, Text: "second"},
		},
	}

	out, err := stage.Run(context.Background(), art)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if embedder.calls != 2 {
		t.Errorf("Expected 2 embed calls, got %d", embedder.calls)
	}
	for _, c := range out.Clauses {
		if c.EmbeddingRef == "" {
			t.Errorf("Expected embedding ref on clause %d", c.Position)
		}
	}
	if index.Count("c1") != 2 {
		t.Errorf("Expected 2 indexed clauses, got %d", index.Count("c1"))
	}

	// Input clauses must not gain refs.
	if art.Clauses[0].EmbeddingRef != "" {
		t.Error("Expected input artifact not to be mutated")
	}
}

func TestEmbeddingStageProviderErrors(t *testing.T) {
	index := NewMemoryIndex()

	// Server errors are transient.
	stage := NewEmbeddingStage(&stubEmbedder{err: &ProviderError{StatusCode: 503, Body: "overloaded"}}, index)
	_, err := stage.Run(context.Background(), &Artifact{ContractID: "c", Clauses: []model.Clause{{Position: 1, Text: "x"}}})
	se, ok := model.AsStageError(err)
	if !ok || !se.Transient {
		t.Errorf("Expected transient stage error for 503, got %v", err)
	}

	// Auth failures are fatal.
	stage = NewEmbeddingStage(&stubEmbedder{err: &ProviderError{StatusCode: 401, Body: "unauthorized"}}, index)
	_, err = stage.Run(context.Background(), &Artifact{ContractID: "c", Clauses: []model.Clause{{Position: 1, Text: "x"}}})
	se, ok = model.AsStageError(err)
	if !ok || se.Transient {
		t.Errorf("Expected fatal stage error for 401, got %v", err)
	}
}

func TestIsTransientProviderError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"rate limit", &ProviderError{StatusCode: 429}, true},
		{"server error", &ProviderError{StatusCode: 500}, true},
		{"bad request", &ProviderError{StatusCode: 400}, false},
		{"auth failure", &ProviderError{StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientProviderError(tt.err); got != tt.transient {
				t.Errorf("IsTransientProviderError = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestExtractTextPlainFormats(t *testing.T) {
	text, err := ExtractText("notes.txt", []byte("  hello contract  "))
	if err != nil {
		t.Fatalf("ExtractText txt: %v", err)
	}
	if text != "hello contract" {
		t.Errorf("Expected trimmed text, got %q", text)
	}

	if _, err := ExtractText("image.png", []byte{1, 2, 3}); err == nil {
		t.Error("Expected unsupported file type error")
	}
}

func TestExtractTextFromStream(t *testing.T) {
	stream := []byte("BT\n(Hello ) Tj\n[(wor) -20 (ld)] TJ\nT*\n(next line) Tj\nET")
	got := extractTextFromStream(stream)
	if !strings.Contains(got, "Hello world") {
		t.Errorf("Expected Tj/TJ text extracted, got %q", got)
	}
	if !strings.Contains(got, "next line") {
		t.Errorf("Expected T* line break preserved, got %q", got)
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, "plain"},
		{`a\nb`, "a\nb"},
		{`paren \( pair \)`, "paren ( pair )"},
		{`back\\slash`, `back\slash`},
		{`octal\040space`, "octal space"},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("decodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
