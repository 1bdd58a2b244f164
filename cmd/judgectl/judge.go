package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/usecase"
)

var (
	submissionFile string
	outputJSON     bool
	strictExit     bool
)

// judgeCmd judges one submission file without the queue or database.
var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge a submission file locally",
	Long: `Reads a submission ({"language", "code", "test_cases", ...}) from a
file, or stdin when the file is "-", judges it on the configured sandbox
runtime and prints the verdict.`,
	Example: `  judgectl judge -f sub.json
  cat sub.json | judgectl judge -f - --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readRequest(cmd.InOrStdin(), submissionFile)
		if err != nil {
			return err
		}

		_, engine, logger, err := loadEngine("cli")
		if err != nil {
			return err
		}
		defer engine.Close()
		defer logger.Sync()

		sub, err := usecase.NewSubmission(engine.Languages, req)
		if err != nil {
			return err
		}
		result := engine.Judge.Judge(cmd.Context(), sub)

		if err := printResult(cmd.OutOrStdout(), result, outputJSON); err != nil {
			return err
		}
		if strictExit && result.Status != domain.StatusAccepted {
			return fmt.Errorf("verdict %s", result.Status)
		}
		return nil
	},
}

func init() {
	judgeCmd.Flags().StringVarP(&submissionFile, "file", "f", "", "submission JSON file, or - for stdin")
	judgeCmd.Flags().BoolVar(&outputJSON, "json", false, "print the full result as JSON")
	judgeCmd.Flags().BoolVar(&strictExit, "strict", false, "exit non-zero unless the verdict is ACCEPTED")
	_ = judgeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(judgeCmd)
}

func readRequest(stdin io.Reader, path string) (*domain.SubmitRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}

	var req domain.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSubmission, err)
	}
	return &req, nil
}

func printResult(w io.Writer, result *domain.JudgeResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\ntime: %dms\n",
		result.Status, judge.FormatMessage(result), result.TotalExecutionTimeMs)
	return err
}
