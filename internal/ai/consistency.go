package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sample is one (model, temperature) point of a self-consistency ensemble
type Sample struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// DefaultEnsemble samples the default model at a low and a high temperature
func DefaultEnsemble() []Sample {
	model := GetDefaultModel()
	return []Sample{
		{Model: model, Temperature: 0.2},
		{Model: model, Temperature: 0.8},
	}
}

// ErrNoSamples is returned when every ensemble sample failed
var ErrNoSamples = errors.New("no ensemble sample succeeded")

const (
	defaultRefineThreshold = 8
	defaultMaxRefinements  = 1
	maxJudgedTaskLength    = 6000
)

// SelfConsistency produces a single best free-text answer by sampling an
// ensemble concurrently, scoring the samples with a judge, and refining the
// winner when its score is below RefineThreshold.
type SelfConsistency struct {
	caller          Caller
	judgeModel      string
	refineThreshold int
	maxRefinements  int
	logger          *zap.Logger
}

// ConsistencyConfig configures a SelfConsistency oracle
type ConsistencyConfig struct {
	JudgeModel      string // default: GetSimpleTaskModel()
	RefineThreshold int    // judge score (1-10) below which the winner is refined; default 8
	MaxRefinements  int    // refinement rounds; default 1, negative disables
	Logger          *zap.Logger
}

// NewSelfConsistency creates a self-consistency oracle over caller
func NewSelfConsistency(caller Caller, cfg ConsistencyConfig) *SelfConsistency {
	sc := &SelfConsistency{
		caller:          caller,
		judgeModel:      cfg.JudgeModel,
		refineThreshold: cfg.RefineThreshold,
		maxRefinements:  cfg.MaxRefinements,
		logger:          cfg.Logger,
	}
	if sc.judgeModel == "" {
		sc.judgeModel = GetSimpleTaskModel()
	}
	if sc.refineThreshold == 0 {
		sc.refineThreshold = defaultRefineThreshold
	}
	if sc.maxRefinements == 0 {
		sc.maxRefinements = defaultMaxRefinements
	} else if sc.maxRefinements < 0 {
		sc.maxRefinements = 0
	}
	if sc.logger == nil {
		sc.logger = zap.NewNop()
	}
	return sc
}

type judgeVerdict struct {
	Score    int    `json:"score"`
	Critique string `json:"critique"`
}

func (v *judgeVerdict) validate() error {
	if v.Score < 1 || v.Score > 10 {
		return fmt.Errorf("score must be between 1 and 10, got %d", v.Score)
	}
	return nil
}

type candidate struct {
	index    int
	text     string
	score    int
	critique string
}

// Complete returns the best answer to prompt across the ensemble.
// Samples that fail are dropped; if all fail the error wraps ErrNoSamples.
func (sc *SelfConsistency) Complete(ctx context.Context, prompt, systemPrompt string, ensemble []Sample) (string, error) {
	if len(ensemble) == 0 {
		ensemble = DefaultEnsemble()
	}

	texts := make([]string, len(ensemble))
	errs := make([]error, len(ensemble))

	g, gctx := errgroup.WithContext(ctx)
	for i, sample := range ensemble {
		g.Go(func() error {
			temp := sample.Temperature
			texts[i], errs[i] = sc.caller.Call(gctx, Request{
				Operation:   "fix-sample",
				Model:       sample.Model,
				System:      systemPrompt,
				Prompt:      prompt,
				Temperature: &temp,
			})
			return nil
		})
	}
	_ = g.Wait()

	var candidates []*candidate
	var lastErr error
	for i := range ensemble {
		if errs[i] != nil {
			lastErr = errs[i]
			sc.logger.Warn("ensemble sample failed",
				zap.String("model", ensemble[i].Model),
				zap.Float64("temperature", ensemble[i].Temperature),
				zap.Error(errs[i]))
			continue
		}
		candidates = append(candidates, &candidate{index: i, text: texts[i]})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %v", ErrNoSamples, lastErr)
	}
	if len(candidates) == 1 && sc.maxRefinements == 0 {
		return candidates[0].text, nil
	}

	sc.judgeAll(ctx, prompt, candidates)
	best := pickBest(candidates)

	for round := 1; round <= sc.maxRefinements && best.score < sc.refineThreshold; round++ {
		temp := ensemble[0].Temperature
		refined, err := sc.caller.Call(ctx, Request{
			Operation:   "fix-refine",
			Model:       ensemble[0].Model,
			System:      systemPrompt,
			Prompt:      buildRefinePrompt(prompt, best.text, best.critique),
			Temperature: &temp,
		})
		if err != nil {
			sc.logger.Warn("refinement failed", zap.Int("round", round), zap.Error(err))
			break
		}

		next := &candidate{index: len(ensemble) + round - 1, text: refined}
		sc.judgeAll(ctx, prompt, []*candidate{next})
		sc.logger.Debug("refinement judged",
			zap.Int("round", round), zap.Int("previous_score", best.score), zap.Int("score", next.score))
		if next.score > best.score {
			best = next
		}
	}

	return best.text, nil
}

// judgeAll scores candidates concurrently; a judge failure leaves the score at 0
func (sc *SelfConsistency) judgeAll(ctx context.Context, task string, candidates []*candidate) {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		g.Go(func() error {
			verdict, err := CompleteStructured(gctx, sc.caller, Request{
				Operation: "judge",
				Model:     sc.judgeModel,
				Prompt:    buildJudgePrompt(task, c.text),
				MaxTokens: 1024,
			}, (*judgeVerdict).validate, 2)
			if err != nil {
				sc.logger.Warn("judge failed", zap.Int("candidate", c.index), zap.Error(err))
				return nil
			}
			c.score = verdict.Score
			c.critique = verdict.Critique
			return nil
		})
	}
	_ = g.Wait()
}

// pickBest returns the highest scoring candidate; ties go to the earliest
func pickBest(candidates []*candidate) *candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best
}

func buildJudgePrompt(task, answer string) string {
	return fmt.Sprintf(`You are judging a proposed answer to a code repair task.

TASK:
%s

PROPOSED ANSWER:
%s

Score the answer from 1 (useless) to 10 (correct, minimal, follows the requested format exactly).
Penalize answers that change unrelated code, ignore the requested output format, or would not compile.

Respond with ONLY a JSON object:
{"score": <1-10>, "critique": "<what is wrong or missing, one paragraph>"}`,
		truncateString(task, maxJudgedTaskLength), answer)
}

func buildRefinePrompt(task, answer, critique string) string {
	if critique == "" {
		critique = "No critique available. Re-check every hunk against the file content."
	}
	return fmt.Sprintf(`%s

A previous answer to this task was:
%s

A reviewer found these problems:
%s

Produce an improved answer. Follow the original output format exactly.`, task, answer, critique)
}
