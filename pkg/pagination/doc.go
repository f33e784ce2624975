// Package pagination iterates over paged GitHub collections such as commits
// or stargazers.
//
// GitHub exposes collections through a page query parameter and announces the
// final page in the Link response header. An Iterator resolves the page count
// with a single request, then hands out pages one at a time (Next) or in
// parallel batches (NextBatch) drawn from a worker pool it owns.
//
// Example usage:
//
//	gh, _ := client.New(client.DefaultConfig("analytics/1.0"))
//	budget := ratelimit.NewBudget(ratelimit.PolicyLastWriteWins)
//	endpoint := pagination.Endpoint{Project: "golang/go", Kind: pagination.KindStargazers}
//
//	err := pagination.With(ctx, gh, endpoint, func(it *pagination.Iterator) error {
//		for it.HasNext() {
//			pages, err := it.NextBatch(ctx, 10)
//			if err != nil {
//				return err
//			}
//			consume(pages)
//		}
//		return nil
//	}, pagination.WithBudget(budget))
//
// Page order:
//   - Indices are consumed from the last page down to page 1. GitHub lists
//     commits newest first, so iteration walks from the oldest data forward.
//   - NextBatch reserves its indices before dispatching them and returns the
//     pages in that descending order, whatever order the workers finish in.
//
// Every request updates the injected budget from the X-RateLimit-* headers.
// The budget is only tracked; an exhausted budget never stops iteration.
package pagination
