package lifecycle

import (
	"context"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// BulkError is one issue's failure within a multi-issue operation.
type BulkError struct {
	IssueID string
	Err     error
}

// BulkResult partitions a multi-issue operation's outcomes. Each issue is
// written independently, so the succeeded ones are durable whatever
// happened to the others.
type BulkResult struct {
	Succeeded []string
	// Skipped holds issues where the operation was a no-op.
	Skipped []string
	Errors  []BulkError
}

func (r *BulkResult) add(id string, changed bool, err error) {
	switch {
	case err != nil:
		r.Errors = append(r.Errors, BulkError{IssueID: id, Err: err})
	case changed:
		r.Succeeded = append(r.Succeeded, id)
	default:
		r.Skipped = append(r.Skipped, id)
	}
}

// AttachRequest names gates to attach to, or detach from, one issue.
type AttachRequest struct {
	IssueID string
	Keys    []string
}

// BulkAttach applies AttachGates to each request in order.
func (m *Machine) BulkAttach(ctx context.Context, reqs []AttachRequest, actor string) *BulkResult {
	res := &BulkResult{}
	for _, req := range reqs {
		added, err := m.AttachGates(ctx, req.IssueID, req.Keys, actor)
		res.add(req.IssueID, len(added) > 0, err)
	}
	return res
}

// BulkDetach applies DetachGates to each request in order.
func (m *Machine) BulkDetach(ctx context.Context, reqs []AttachRequest, actor string) *BulkResult {
	res := &BulkResult{}
	for _, req := range reqs {
		removed, err := m.DetachGates(ctx, req.IssueID, req.Keys, actor)
		res.add(req.IssueID, len(removed) > 0, err)
	}
	return res
}

// BulkTransition requests to for each issue in order through Transition.
// Issues already in state to are skipped.
func (m *Machine) BulkTransition(ctx context.Context, ids []string, to model.State, actor string) *BulkResult {
	return m.BulkApply(ctx, ids, to, func(ctx context.Context, id string) (*model.Issue, error) {
		return m.Transition(ctx, id, to, actor)
	})
}

// BulkApply runs op, a single edge such as Reopen or Abort, for each issue
// in order. to is the state op leads to; issues already there are skipped
// without calling op.
func (m *Machine) BulkApply(ctx context.Context, ids []string, to model.State, op func(ctx context.Context, id string) (*model.Issue, error)) *BulkResult {
	res := &BulkResult{}
	for _, id := range ids {
		issue, err := m.store.GetIssue(ctx, id)
		if err != nil {
			res.add(id, false, err)
			continue
		}
		if issue.State == to {
			res.add(id, false, nil)
			continue
		}
		_, err = op(ctx, id)
		res.add(id, true, err)
	}
	return res
}
