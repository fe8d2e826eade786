package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sarthak2477/Legal-Document-Processor/config"
	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/Sarthak2477/Legal-Document-Processor/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
)

// NoRelevantClausesAnswer is returned when retrieval finds nothing
// above the similarity threshold. The engine states this explicitly
// instead of letting the model guess.
const NoRelevantClausesAnswer = "No relevant clauses were found in the contract for this question."

// NoRisksDetected is the status reported when the generation stage
// explicitly found no risks. It is distinct from a generation outage,
// which surfaces as GenerationUnavailableError.
const NoRisksDetected = "no risks detected"

const answerSystemPrompt = `You are a legal contract analysis assistant.
Answer strictly from the contract clauses provided in the context.
Reference every clause you rely on with its marker, for example [clause 3].
If the context does not contain the information, say so plainly instead of guessing.`

// QueryEngine answers questions and runs fixed analysis templates
// against a READY contract's indexed clauses.
type QueryEngine struct {
	store     *ContractStore
	index     VectorIndex
	embedder  Embedder
	generator Generator
	cfg       *config.QueryConfig
	encoder   *tiktoken.Tiktoken
}

func NewQueryEngine(store *ContractStore, index VectorIndex, embedder Embedder, generator Generator, cfg *config.QueryConfig) *QueryEngine {
	// Token counting is best effort; without an encoding the engine
	// falls back to a character-based estimate.
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		enc = nil
	}
	return &QueryEngine{
		store:     store,
		index:     index,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
		encoder:   enc,
	}
}

// Ask answers a free-text question about a READY contract, grounded in
// the most similar clauses and returning citations for every clause
// the answer relied on.
func (q *QueryEngine) Ask(ctx context.Context, contractID, question string) (*model.Answer, error) {
	contract, err := q.readyContract(contractID)
	if err != nil {
		return nil, err
	}

	retrieved, err := q.retrieve(ctx, contractID, question)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		return &model.Answer{Answer: NoRelevantClausesAnswer, Grounded: false, CreatedAt: time.Now()}, nil
	}

	grounding := q.buildContext(retrieved)
	prompt := fmt.Sprintf("Contract clauses:\n%s\n\nQuestion: %s\n\nAnswer:", grounding, question)

	text, err := q.generate(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	citations := q.parseCitations(text, contract, retrieved)
	return &model.Answer{
		Answer:    text,
		Citations: citations,
		Grounded:  true,
		CreatedAt: time.Now(),
	}, nil
}

const risksSystemPrompt = `You are a legal contract risk analyst.
Respond with JSON only, no prose and no code fences.
Shape: {"status":"risks found","risks":[{"title":"...","severity":"low|medium|high","explanation":"...","clause":N}]}
where N is the clause number from the context markers.
If nothing in the clauses is risky, respond exactly: {"status":"no risks detected","risks":[]}`

// riskKeywords pre-filters clauses worth analyzing so the model only
// sees material that can actually carry risk.
var riskKeywords = []string{
	"liability", "penalty", "termination", "breach", "damages",
	"indemnif", "liquidated", "guarantee", "warranty", "attorney",
}

const maxRiskClauses = 10

// AnalyzeRisks scans a READY contract for risky clauses. An empty
// result with a nil error means the generation stage explicitly
// reported no risks; an outage is returned as
// GenerationUnavailableError, never as an empty list.
func (q *QueryEngine) AnalyzeRisks(ctx context.Context, contractID string) ([]model.RiskFinding, error) {
	contract, err := q.readyContract(contractID)
	if err != nil {
		return nil, err
	}

	candidates := filterRiskCandidates(contract.Clauses)
	if len(candidates) == 0 {
		// Nothing that matches a risk pattern: still grounded, no
		// generation needed.
		return []model.RiskFinding{}, nil
	}

	prompt := fmt.Sprintf("Contract clauses:\n%s\n\nAnalyze these clauses for risks.", q.clausesContext(candidates))
	text, err := q.generate(ctx, risksSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Status string `json:"status"`
		Risks  []struct {
			Title       string `json:"title"`
			Severity    string `json:"severity"`
			Explanation string `json:"explanation"`
			Clause      int    `json:"clause"`
		} `json:"risks"`
	}
	if err := unmarshalModelJSON(text, &parsed); err != nil {
		return nil, &model.GenerationUnavailableError{Err: fmt.Errorf("unparseable risk analysis: %w", err)}
	}

	findings := make([]model.RiskFinding, 0, len(parsed.Risks))
	for _, r := range parsed.Risks {
		clause := findClause(contract, r.Clause)
		if clause == nil {
			// A citation must point at a real clause; drop findings
			// pointing nowhere.
			logger.Warn(ctx, "risk finding cites unknown clause", "contract_id", contractID, "position", r.Clause)
			continue
		}
		findings = append(findings, model.RiskFinding{
			Title:       r.Title,
			Severity:    model.NormalizeSeverity(strings.ToLower(r.Severity)),
			Explanation: r.Explanation,
			Citation:    citationFor(clause),
		})
	}
	return findings, nil
}

const checklistSystemPrompt = `You are a legal contract review assistant.
Respond with JSON only, no prose and no code fences.
Shape: {"checklist":[{"item":"...","note":"...","clause":N}]}
where N is the clause number from the context markers.
List the obligations, deadlines and review points a party must track.`

// GenerateChecklist builds a list of obligations and review points
// from the contract's clauses.
func (q *QueryEngine) GenerateChecklist(ctx context.Context, contractID string) ([]model.ChecklistItem, error) {
	contract, err := q.readyContract(contractID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Contract clauses:\n%s\n\nBuild the review checklist.", q.clausesContext(contract.Clauses))
	text, err := q.generate(ctx, checklistSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Checklist []struct {
			Item   string `json:"item"`
			Note   string `json:"note"`
			Clause int    `json:"clause"`
		} `json:"checklist"`
	}
	if err := unmarshalModelJSON(text, &parsed); err != nil {
		return nil, &model.GenerationUnavailableError{Err: fmt.Errorf("unparseable checklist: %w", err)}
	}

	items := make([]model.ChecklistItem, 0, len(parsed.Checklist))
	for _, it := range parsed.Checklist {
		clause := findClause(contract, it.Clause)
		if clause == nil {
			continue
		}
		items = append(items, model.ChecklistItem{
			Item:     it.Item,
			Note:     it.Note,
			Citation: citationFor(clause),
		})
	}
	return items, nil
}

const summarySystemPrompt = `You are a legal contract analysis assistant.
Summarize the contract in plain language: the parties, main obligations,
key terms and notable conditions. Use only the provided clauses.`

// Summarize produces a plain-language summary of the contract.
func (q *QueryEngine) Summarize(ctx context.Context, contractID string) (string, error) {
	contract, err := q.readyContract(contractID)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Contract clauses:\n%s\n\nSummary:", q.clausesContext(contract.Clauses))
	return q.generate(ctx, summarySystemPrompt, prompt)
}

// readyContract gates every query on the READY status. A contract that
// has not finished processing fails with NotReady carrying the current
// status; partial pipeline output is never queryable.
func (q *QueryEngine) readyContract(contractID string) (*model.Contract, error) {
	contract := q.store.Get(contractID)
	if contract == nil {
		return nil, model.ErrContractNotFound
	}
	if contract.Status != model.StatusReady {
		return nil, &model.NotReadyError{ContractID: contractID, Status: contract.Status}
	}
	return contract, nil
}

// retrieve embeds the question and searches the contract's clauses,
// dropping results below the similarity threshold.
func (q *QueryEngine) retrieve(ctx context.Context, contractID, question string) ([]ScoredClause, error) {
	vec, err := q.embedWithRetry(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := q.index.Search(ctx, contractID, vec, q.cfg.TopK)
	if err != nil {
		return nil, &model.GenerationUnavailableError{Err: fmt.Errorf("vector search failed: %w", err)}
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= q.cfg.MinSimilarity {
			filtered = append(filtered, r)
		}
	}

	// Score descending, ties broken by earlier document position, so
	// the grounding context is deterministic.
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Clause.Position < filtered[j].Clause.Position
	})
	return filtered, nil
}

// buildContext assembles the grounding context, keeping the highest
// scored clauses within the token budget.
func (q *QueryEngine) buildContext(retrieved []ScoredClause) string {
	var sb strings.Builder
	used := 0
	for _, r := range retrieved {
		entry := formatClause(r.Clause)
		tokens := q.countTokens(entry)
		if used+tokens > q.cfg.MaxContextTokens && used > 0 {
			break
		}
		used += tokens
		sb.WriteString(entry)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

func (q *QueryEngine) clausesContext(clauses []model.Clause) string {
	var sb strings.Builder
	used := 0
	for _, c := range clauses {
		entry := formatClause(c)
		tokens := q.countTokens(entry)
		if used+tokens > q.cfg.MaxContextTokens && used > 0 {
			break
		}
		used += tokens
		sb.WriteString(entry)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

func formatClause(c model.Clause) string {
	if c.Heading != "" {
		return fmt.Sprintf("[clause %d] %s\n%s", c.Position, c.Heading, c.Text)
	}
	return fmt.Sprintf("[clause %d] %s", c.Position, c.Text)
}

func (q *QueryEngine) countTokens(text string) int {
	if q.encoder != nil {
		return len(q.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// generate calls the generation provider with the configured retry
// budget. Transient provider failures are retried with a short
// backoff; exhaustion surfaces as GenerationUnavailable.
func (q *QueryEngine) generate(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= q.cfg.GenerationRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", &model.GenerationUnavailableError{Err: ctx.Err()}
			}
		}
		text, err := q.generator.Generate(ctx, system, prompt)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
		if !IsTransientProviderError(err) {
			break
		}
	}
	return "", &model.GenerationUnavailableError{Err: lastErr}
}

func (q *QueryEngine) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil && IsTransientProviderError(err) {
		vec, err = q.embedder.Embed(ctx, text)
	}
	if err != nil {
		return nil, &model.GenerationUnavailableError{Err: fmt.Errorf("question embedding failed: %w", err)}
	}
	return vec, nil
}

var citationRe = regexp.MustCompile(`\[clause (\d+)\]`)

// parseCitations extracts the [clause N] markers the model referenced
// and validates each against the contract's real clauses. When the
// model cites nothing usable, the retrieved clauses themselves become
// the citations so the answer stays traceable.
func (q *QueryEngine) parseCitations(answer string, contract *model.Contract, retrieved []ScoredClause) []model.Citation {
	seen := make(map[int]bool)
	var citations []model.Citation

	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		pos, err := strconv.Atoi(m[1])
		if err != nil || seen[pos] {
			continue
		}
		clause := findClause(contract, pos)
		if clause == nil {
			continue
		}
		seen[pos] = true
		citations = append(citations, citationFor(clause))
	}

	if len(citations) == 0 {
		for _, r := range retrieved {
			if seen[r.Clause.Position] {
				continue
			}
			seen[r.Clause.Position] = true
			clause := r.Clause
			citations = append(citations, citationFor(&clause))
		}
	}
	return citations
}

func filterRiskCandidates(clauses []model.Clause) []model.Clause {
	var out []model.Clause
	for _, c := range clauses {
		text := strings.ToLower(c.Text)
		for _, kw := range riskKeywords {
			if strings.Contains(text, kw) {
				out = append(out, c)
				break
			}
		}
		if len(out) >= maxRiskClauses {
			break
		}
	}
	return out
}

func findClause(contract *model.Contract, position int) *model.Clause {
	for i := range contract.Clauses {
		if contract.Clauses[i].Position == position {
			return &contract.Clauses[i]
		}
	}
	return nil
}

const snippetLen = 200

func citationFor(clause *model.Clause) model.Citation {
	snippet := clause.Text
	if len(snippet) > snippetLen {
		// Back up to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := snippetLen
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut] + "..."
	}
	return model.Citation{Position: clause.Position, Snippet: snippet}
}

// unmarshalModelJSON tolerates code fences and leading prose around
// the JSON object a model was asked to produce.
func unmarshalModelJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
