package procsup

import (
	"context"
	"fmt"
	"os"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// CountOccurrences returns the number of lines in the file at path that
// contain text.
func CountOccurrences(path, text string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("count %q in %s: %w", text, path, err)
	}
	return countLines(data, text), nil
}

// WaitForOccurrences polls the file at path until at least threshold lines
// contain text and returns the count. A missing file is retried, since the
// writer may not have created it yet.
func (s *Supervisor) WaitForOccurrences(ctx context.Context, path, text string, threshold int, p converge.RetryPolicy) (int, error) {
	probe := converge.NewProbe("occurrences", func(context.Context) (int, error) {
		return CountOccurrences(path, text)
	}, path, text)
	return converge.Retry(ctx, s.engine, p, converge.AtLeast(threshold), probe)
}
