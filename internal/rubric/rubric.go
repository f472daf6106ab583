package rubric

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pitchcoach/internal/llm"
)

// ErrMalformedOutput is returned when the model's structured response does not
// satisfy the rubric schema. The schema is fixed, so a malformed response
// indicates a gateway-side fault and is surfaced rather than repaired.
var ErrMalformedOutput = errors.New("malformed model output")

const (
	// MinScore and MaxScore bound every criterion score.
	MinScore = 1
	MaxScore = 5
)

// Criterion is one scored rubric dimension with its feedback text.
type Criterion struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Evaluation is the fixed five-dimension pitch rubric plus an overall summary.
type Evaluation struct {
	StatedProblem           Criterion `json:"stated_problem"`
	IdentifiedSolution      Criterion `json:"identified_solution"`
	TargetMarket            Criterion `json:"target_market"`
	CompetitiveAdvantage    Criterion `json:"competitive_advantage"`
	ViabilitySustainability Criterion `json:"viability_sustainability"`
	OverallFeedback         string    `json:"overall_feedback"`
}

// SystemPrompt is the fixed instruction set for structured pitch analysis.
const SystemPrompt = `You are a hackathon/startup pitch coach.

You are given a pitch transcript from a startup pitch competition.

You need to evaluate the pitch and provide feedback on the following criteria:
1. Stated Problem (Score 1-5): How well is the problem articulated?
2. Identified Solution (Score 1-5): How relevant and effective is the proposed solution?
3. Target Market (Score 1-5): How well is the target market identified and analyzed?
4. Competitive Advantage (Score 1-5): How clear is the competitive advantage?
5. Viability/Sustainability (Score 1-5): How viable and sustainable is the business model?

For each criterion, provide a score (1-5) and detailed feedback.
Also provide an overall feedback summarizing the pitch's strengths and areas for improvement.

Respond with a single JSON object of this exact shape and nothing else:
{
  "stated_problem": {"score": <1-5>, "feedback": "<text>"},
  "identified_solution": {"score": <1-5>, "feedback": "<text>"},
  "target_market": {"score": <1-5>, "feedback": "<text>"},
  "competitive_advantage": {"score": <1-5>, "feedback": "<text>"},
  "viability_sustainability": {"score": <1-5>, "feedback": "<text>"},
  "overall_feedback": "<text>"
}`

// ChatSystemPrompt guides free-text coaching turns.
const ChatSystemPrompt = `You are a hackathon/startup pitch coach. Answer questions about the pitch, suggest concrete improvements, and keep responses focused on what the founder can act on.`

// Parse extracts and validates an Evaluation from a raw model response.
// Any failure is wrapped in ErrMalformedOutput.
func Parse(raw string) (*Evaluation, error) {
	var eval Evaluation
	if err := llm.ProcessResponse(raw, &eval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	if err := eval.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	return &eval, nil
}

// Validate checks that every criterion is scored in range with non-empty
// feedback, and that the overall summary is present.
func (e *Evaluation) Validate() error {
	criteria := []struct {
		name string
		c    Criterion
	}{
		{"stated_problem", e.StatedProblem},
		{"identified_solution", e.IdentifiedSolution},
		{"target_market", e.TargetMarket},
		{"competitive_advantage", e.CompetitiveAdvantage},
		{"viability_sustainability", e.ViabilitySustainability},
	}

	for _, crit := range criteria {
		if crit.c.Score < MinScore || crit.c.Score > MaxScore {
			return fmt.Errorf("%s score %d out of range [%d, %d]", crit.name, crit.c.Score, MinScore, MaxScore)
		}
		if crit.c.Feedback == "" {
			return fmt.Errorf("%s feedback is empty", crit.name)
		}
	}

	if e.OverallFeedback == "" {
		return errors.New("overall_feedback is empty")
	}

	return nil
}

// Serialize renders the evaluation as canonical JSON for persistence as an
// assistant turn.
func (e *Evaluation) Serialize() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("serialize evaluation: %w", err)
	}
	return string(data), nil
}
