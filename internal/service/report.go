package service

import (
	"fmt"
	"strings"
	"time"

	"evallab/internal/model"
	"evallab/internal/stats"
)

const maxCurvePoints = 20

// RenderRunReport renders an evaluation run as markdown. evaluation may be
// nil when it has since been deleted.
func RenderRunReport(evaluation *model.Evaluation, run *model.EvaluationRun) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Evaluation run %s\n\n", run.ID))
	if evaluation != nil {
		b.WriteString(fmt.Sprintf("- evaluation: %s (%s)\n", evaluation.Name, evaluation.ID))
		b.WriteString(fmt.Sprintf("- pipeline_id: %s\n", evaluation.TargetPipelineID))
		b.WriteString(fmt.Sprintf("- criteria: %s\n", evaluation.SuccessCriteria.Type()))
	} else {
		b.WriteString(fmt.Sprintf("- evaluation: %s (deleted)\n", run.EvaluationID))
	}
	b.WriteString(fmt.Sprintf("- created_at: %s\n", run.CreatedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("- status: %s\n\n", run.Status()))

	b.WriteString("## Parameters\n\n")
	b.WriteString("| Expected proportion | Confidence level | Margin of error | Sample size |\n")
	b.WriteString("| ---: | ---: | ---: | ---: |\n")
	b.WriteString(fmt.Sprintf("| %.2f | %.2f | %.2f | %d |\n\n",
		run.ExpectedProportion, run.ConfidenceLevel, run.MarginOfError, run.SampleSize))

	b.WriteString("## Result\n\n")
	b.WriteString(fmt.Sprintf("- trials: %d / %d\n", len(run.Trials), run.SampleSize))
	b.WriteString(fmt.Sprintf("- passed: %d\n", run.PassedCount()))
	failedInvocations := 0
	for _, t := range run.Trials {
		if t.PipelineRunID == "" {
			failedInvocations++
		}
	}
	b.WriteString(fmt.Sprintf("- failed invocations: %d\n", failedInvocations))

	rate := run.SuccessRate()
	if rate == nil {
		b.WriteString("- success rate: pending\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("- success rate: %.2f\n", *rate))
	if ci, ok := run.Interval(); ok {
		b.WriteString(fmt.Sprintf("- wilson interval (%.0f%%): [%.3f, %.3f]\n",
			run.ConfidenceLevel*100, ci.Low, ci.High))
	}

	curve := stats.CumulativeRate(run.PassedFlags())
	if len(curve) == 0 {
		return b.String()
	}
	b.WriteString("\n## Cumulative success rate\n\n")
	b.WriteString("| Trial | Rate |\n")
	b.WriteString("| ---: | ---: |\n")
	for _, i := range curveIndexes(len(curve), maxCurvePoints) {
		b.WriteString(fmt.Sprintf("| %d | %.3f |\n", i+1, curve[i]))
	}
	return b.String()
}

// curveIndexes picks at most max evenly spaced indexes in [0,n), always
// ending on n-1.
func curveIndexes(n, max int) []int {
	if n <= max {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, max)
	for k := 1; k <= max; k++ {
		out = append(out, k*n/max-1)
	}
	return out
}
