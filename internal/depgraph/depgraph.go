// Package depgraph answers dependency questions over the issues in a store.
// Edges live on the dependent issue's record; a prerequisite is complete
// only when it is done.
package depgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

var (
	// ErrCycle is returned when an edge would make an issue depend on itself.
	ErrCycle = errors.New("dependency would create a cycle")
	// ErrSelf is returned for an issue depending on itself directly.
	ErrSelf = errors.New("issue cannot depend on itself")
)

// IssueStore is the slice of store.Store the graph reads and writes.
type IssueStore interface {
	GetIssue(ctx context.Context, id string) (*model.Issue, error)
	ListIssues(ctx context.Context) ([]*model.Issue, error)
	UpdateIssue(ctx context.Context, id string, fn store.IssueUpdateFunc) (*model.Issue, error)
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, topic, issueID, actor string, payload any) (*model.Event, error)
}

// Graph is the store-backed dependency graph.
type Graph struct {
	store  IssueStore
	rec    Recorder
	logger *slog.Logger
}

// New returns a Graph over s. rec may be nil.
func New(s IssueStore, rec Recorder, logger *slog.Logger) *Graph {
	return &Graph{store: s, rec: rec, logger: logger}
}

// Complete reports whether an issue satisfies the dependencies on it.
func Complete(issue *model.Issue) bool {
	return issue.State == model.StateDone
}

// Incomplete returns the prerequisites of id that are not yet done, in
// declaration order. A prerequisite missing from the store counts as
// incomplete.
func (g *Graph) Incomplete(ctx context.Context, id string) ([]string, error) {
	issue, err := g.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.IncompleteAmong(ctx, issue.Dependencies)
}

// IncompleteAmong filters deps down to the ones not yet done. It serves
// issues that are not stored yet.
func (g *Graph) IncompleteAmong(ctx context.Context, deps []string) ([]string, error) {
	var out []string
	for _, dep := range deps {
		pre, err := g.store.GetIssue(ctx, dep)
		if errors.Is(err, store.ErrNotFound) {
			out = append(out, dep)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !Complete(pre) {
			out = append(out, dep)
		}
	}
	return out, nil
}

// Dependents returns the ids of issues that list id as a prerequisite.
func (g *Graph) Dependents(ctx context.Context, id string) ([]string, error) {
	all, err := g.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, issue := range all {
		if slices.Contains(issue.Dependencies, id) {
			out = append(out, issue.ID)
		}
	}
	return out, nil
}

// Add makes id depend on dependsOn. Adding an existing edge is a no-op and
// reports false.
func (g *Graph) Add(ctx context.Context, id, dependsOn, actor string) (bool, error) {
	if id == dependsOn {
		return false, ErrSelf
	}
	if _, err := g.store.GetIssue(ctx, dependsOn); err != nil {
		return false, err
	}
	all, err := g.store.ListIssues(ctx)
	if err != nil {
		return false, err
	}
	if reaches(all, dependsOn, id) {
		return false, fmt.Errorf("%s -> %s: %w", id, dependsOn, ErrCycle)
	}

	var added bool
	if _, err := g.store.UpdateIssue(ctx, id, func(issue *model.Issue) (bool, error) {
		if slices.Contains(issue.Dependencies, dependsOn) {
			return false, nil
		}
		issue.Dependencies = append(issue.Dependencies, dependsOn)
		added = true
		return true, nil
	}); err != nil {
		return false, err
	}
	if added {
		g.record(ctx, events.TopicDependencyAdded, id, actor, events.DependencyChanged{DependsOn: dependsOn})
	}
	return added, nil
}

// Remove deletes the edge id -> dependsOn. Removing an absent edge is a
// no-op and reports false.
func (g *Graph) Remove(ctx context.Context, id, dependsOn, actor string) (bool, error) {
	var removed bool
	if _, err := g.store.UpdateIssue(ctx, id, func(issue *model.Issue) (bool, error) {
		i := slices.Index(issue.Dependencies, dependsOn)
		if i < 0 {
			return false, nil
		}
		issue.Dependencies = slices.Delete(issue.Dependencies, i, i+1)
		removed = true
		return true, nil
	}); err != nil {
		return false, err
	}
	if removed {
		g.record(ctx, events.TopicDependencyRemoved, id, actor, events.DependencyChanged{DependsOn: dependsOn})
	}
	return removed, nil
}

func (g *Graph) record(ctx context.Context, topic, id, actor string, payload any) {
	if g.rec == nil {
		return
	}
	if _, err := g.rec.Record(ctx, topic, id, actor, payload); err != nil {
		g.logger.Error("recording dependency event failed", "topic", topic, "issue", id, "err", err)
	}
}

// reaches reports whether to is reachable from from along dependency edges.
func reaches(all []*model.Issue, from, to string) bool {
	deps := make(map[string][]string, len(all))
	for _, issue := range all {
		deps[issue.ID] = issue.Dependencies
	}
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, deps[cur]...)
	}
	return false
}
