package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// Source is the slice of store.Store an export reads.
type Source interface {
	ListIssues(ctx context.Context) ([]*model.Issue, error)
	LoadCatalog(ctx context.Context) (*model.Catalog, error)
	ListRuns(ctx context.Context, issueID string) ([]*model.GateRunResult, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	IssueCount int       `json:"issue_count"`
	GateCount  int       `json:"gate_count"`
	RunCount   int       `json:"run_count"`
}

// readHeader decodes the header record at the start of an export. ok is
// false when data does not start with one.
func readHeader(data []byte) (h header, ok bool) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	if err := json.Unmarshal(line, &h); err != nil || h.Type != "header" {
		return header{}, false
	}
	return h, true
}

// summary renders the header counts for commit messages and object
// metadata.
func (h header) summary() string {
	return fmt.Sprintf("%d issues, %d gates, %d runs", h.IssueCount, h.GateCount, h.RunCount)
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every issue, gate definition and gate run as JSONL to
// w. Issues are sorted by ID, gates by key, and runs by run ID, which is
// also their creation order.
func ExportJSONL(ctx context.Context, s Source, w io.Writer) error {
	issues, err := s.ListIssues(ctx)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].ID < issues[j].ID
	})

	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load gate catalog: %w", err)
	}
	gates := make([]*model.GateDefinition, 0, len(cat.Gates))
	for _, g := range cat.Gates {
		gates = append(gates, g)
	}
	sort.Slice(gates, func(i, j int) bool {
		return gates[i].Key < gates[j].Key
	})

	runs, err := s.ListRuns(ctx, "")
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		IssueCount: len(issues),
		GateCount:  len(gates),
		RunCount:   len(runs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, i := range issues {
		if err := enc.Encode(record{Type: "issue", Data: i}); err != nil {
			return fmt.Errorf("encode issue %s: %w", i.ID, err)
		}
	}
	for _, g := range gates {
		if err := enc.Encode(record{Type: "gate", Data: g}); err != nil {
			return fmt.Errorf("encode gate %s: %w", g.Key, err)
		}
	}
	for _, r := range runs {
		if err := enc.Encode(record{Type: "run", Data: r}); err != nil {
			return fmt.Errorf("encode run %s: %w", r.RunID, err)
		}
	}

	return nil
}
