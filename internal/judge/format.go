package judge

import (
	"fmt"
	"strings"

	"github.com/jae464/vibe-judge/internal/domain"
)

const maxMessageField = 512

// FormatMessage renders a short human readable summary of a judge result.
func FormatMessage(res *domain.JudgeResult) string {
	if res == nil {
		return "no result"
	}

	switch {
	case res.Status == domain.StatusAccepted:
		return fmt.Sprintf("accepted (%d/%d)", res.PassedTestCases, res.TotalTestCases)
	case res.CompilationError != "":
		return "compilation error:\n" + clip(res.CompilationError)
	case res.SystemError != "":
		return "system error: " + clip(res.SystemError)
	}

	for _, tc := range res.TestCaseResults {
		if tc.IsCorrect {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s on test %d (%d/%d)", statusText(res.Status), tc.Index+1, res.PassedTestCases, res.TotalTestCases)
		fmt.Fprintf(&b, "\ninput:\n%s", clip(tc.Input))
		fmt.Fprintf(&b, "\nexpected:\n%s", clip(tc.ExpectedOutput))
		fmt.Fprintf(&b, "\nactual:\n%s", clip(tc.ActualOutput))
		if tc.ErrorMessage != "" {
			fmt.Fprintf(&b, "\nerror:\n%s", clip(tc.ErrorMessage))
		}
		return b.String()
	}

	return fmt.Sprintf("%s (%d/%d)", statusText(res.Status), res.PassedTestCases, res.TotalTestCases)
}

func statusText(s domain.JudgeStatus) string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}

func clip(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= maxMessageField {
		return s
	}
	return s[:maxMessageField] + "..."
}
