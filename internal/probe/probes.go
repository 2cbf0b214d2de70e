package probe

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// JSONInt samples an integer from a GET on path selected by expr, for
// example a route or LSP count. Any status other than 200 is a probe error.
func JSONInt(c *Client, path, expr string) (converge.Probe[int], error) {
	q, err := Compile(expr)
	if err != nil {
		return converge.Probe[int]{}, err
	}
	return converge.NewProbe("json_int", func(ctx context.Context) (int, error) {
		resp, err := c.Get(ctx, path, http.StatusOK)
		if err != nil {
			return 0, err
		}
		return q.Int(resp.Body)
	}, path, q), nil
}

// JSONValue samples the part of a GET on path selected by expr, rendered
// as canonical JSON with the volatile keys removed. The string form makes
// statistics snapshots comparable by WaitForStable.
func JSONValue(c *Client, path, expr string, volatile ...string) (converge.Probe[string], error) {
	q, err := Compile(expr)
	if err != nil {
		return converge.Probe[string]{}, err
	}
	return converge.NewProbe("json_value", func(ctx context.Context) (string, error) {
		resp, err := c.Get(ctx, path, http.StatusOK)
		if err != nil {
			return "", err
		}
		v, err := q.First(resp.Body)
		if err != nil {
			return "", err
		}
		return canonicalValue(v, volatile)
	}, path, q), nil
}

// StatusCode samples the status of a GET on path. Transport failures are
// probe errors; every status is a value.
func StatusCode(c *Client, path string) converge.Probe[int] {
	return converge.NewProbe("status_code", func(ctx context.Context) (int, error) {
		resp, err := c.Get(ctx, path)
		if err != nil {
			return 0, err
		}
		return resp.Status, nil
	}, path)
}

// Expect passes only when a GET on path returns want, and yields the body.
// It is meant for converge.Pass, e.g. waiting for a peer entry to appear
// (200) or disappear (404).
func Expect(c *Client, path string, want int) converge.Probe[[]byte] {
	return converge.NewProbe("expect_status", func(ctx context.Context) ([]byte, error) {
		resp, err := c.Get(ctx, path, want)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}, path, want)
}

// TextCount samples how many times pattern matches the raw body of a GET
// on path, such as the number of LSPs carrying a given hop.
func TextCount(c *Client, path, pattern string) (converge.Probe[int], error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return converge.Probe[int]{}, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return converge.NewProbe("text_count", func(ctx context.Context) (int, error) {
		resp, err := c.Get(ctx, path, http.StatusOK)
		if err != nil {
			return 0, err
		}
		return len(re.FindAllIndex(resp.Body, -1)), nil
	}, path, pattern), nil
}
