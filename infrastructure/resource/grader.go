package resource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-rollouts/internal/domain"
)

var (
	_ Verifier = (*Grader)(nil)

	validate = validator.New(validator.WithRequiredStructEnabled())

	// foldCaser is a package-level Unicode case folder so string
	// preparation does not allocate a caser per call.
	foldCaser = cases.Fold()
)

// DefaultAnswerKey is the task metadata key holding the reference
// answer when the configuration does not name one.
const DefaultAnswerKey = "expected_answer"

// GraderConfig defines reference-answer scoring behavior.
type GraderConfig struct {
	// Mode selects the comparison: "exact" scores 1.0 only on equality,
	// "fuzzy" scores by normalized Levenshtein similarity.
	Mode string `yaml:"mode" json:"mode" validate:"required,oneof=exact fuzzy"`

	// Threshold is the minimum fuzzy similarity treated as a match.
	// Similarity below it scores 0.0 to filter weak matches.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"min=0.0,max=1.0"`

	// CaseSensitive disables Unicode case folding before comparison.
	CaseSensitive bool `yaml:"case_sensitive" json:"case_sensitive"`

	// AnswerKey is the task metadata key holding the reference answer.
	AnswerKey string `yaml:"answer_key" json:"answer_key"`
}

// DefaultGraderConfig returns a GraderConfig with sensible defaults.
func DefaultGraderConfig() GraderConfig {
	return GraderConfig{
		Mode:      "fuzzy",
		Threshold: 0.8,
		AnswerKey: DefaultAnswerKey,
	}
}

// Grader scores a completed interaction by comparing the final
// assistant message against a reference answer carried in the task's
// metadata. It is stateless and safe for concurrent use.
type Grader struct {
	config GraderConfig
}

// NewGrader creates a grader with validated configuration.
func NewGrader(config GraderConfig) (*Grader, error) {
	if config.AnswerKey == "" {
		config.AnswerKey = DefaultAnswerKey
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("grader configuration: %w", err)
	}
	return &Grader{config: config}, nil
}

// Verify scores the interaction and echoes the request back with the
// reward attached. The raw similarity and match outcome ride along in
// Extra so downstream metrics can aggregate them.
func (g *Grader) Verify(_ context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	expected, err := g.referenceAnswer(req.RequestParameters)
	if err != nil {
		return nil, err
	}

	actual := finalAssistantText(req.CompletedInteraction)

	similarity := g.similarity(g.prepare(actual), g.prepare(expected))
	reward := similarity
	if g.config.Mode == "exact" {
		reward = 0.0
		if similarity == 1.0 {
			reward = 1.0
		}
	} else if similarity < g.config.Threshold {
		reward = 0.0
	}

	return &domain.VerifyResponse{
		RequestParameters:    req.RequestParameters,
		CompletedInteraction: req.CompletedInteraction,
		Reward:               reward,
		Extra: map[string]any{
			"similarity": similarity,
			"matched":    reward > 0,
		},
	}, nil
}

func (g *Grader) referenceAnswer(task domain.Task) (string, error) {
	raw, ok := task.Metadata[g.config.AnswerKey]
	if !ok {
		return "", fmt.Errorf("task is missing reference answer key %q", g.config.AnswerKey)
	}
	expected, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("reference answer under %q is not a string", g.config.AnswerKey)
	}
	return expected, nil
}

func (g *Grader) prepare(s string) string {
	s = strings.TrimSpace(s)
	if !g.config.CaseSensitive {
		s = foldCaser.String(s)
	}
	return s
}

// similarity returns a score in [0, 1] where 1.0 means identical.
// The Levenshtein distance operates on runes, so normalization uses
// rune counts for Unicode correctness.
func (g *Grader) similarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(s1, s2)

	maxLen := utf8.RuneCountInString(s1)
	if n := utf8.RuneCountInString(s2); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}

	similarity := 1.0 - float64(distance)/float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}
	return similarity
}

// finalAssistantText returns the text of the last assistant message in
// the interaction, or an empty string if the model never produced one.
func finalAssistantText(items []domain.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Type == domain.ItemTypeMessage && items[i].Role == domain.RoleAssistant {
			return items[i].Text()
		}
	}
	return ""
}

// NewGraderServer assembles a resource server scoring against reference
// answers. The grader exposes no tools; it is verification only.
func NewGraderServer(name string, config GraderConfig, logger *slog.Logger) (*Server, error) {
	grader, err := NewGrader(config)
	if err != nil {
		return nil, err
	}
	return NewServer(name, grader, logger), nil
}
