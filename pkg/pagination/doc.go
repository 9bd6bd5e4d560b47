// Package pagination follows cursor-paginated endpoints.
//
// A page is a JSON object carrying a list of result documents and an
// optional link to the next page:
//
//	{"results": [{...}, {...}], "next": "https://host/items/2020?page=2"}
//
// The member names are configurable. The next link may be absolute,
// root-relative (joined onto the base URL) or query-only (resolved against
// the page just fetched). A sequence ends when the link is absent or null.
//
// Example usage:
//
//	f := pagination.NewFetcher(httpClient, pagination.DefaultConfig(baseURL))
//	sum := f.Fetch(ctx, pagination.Sequence{EndpointKey: "items", Year: 2020, URL: first},
//		func(ctx context.Context, docs []*document.Object) error {
//			return queue.PutAll(ctx, docs)
//		})
//
// The fetcher:
//   - fetches pages strictly one after another, sleeping PageDelay in between
//   - hands each page to the emit callback before requesting the next one
//   - stops on client errors, exhausted retries and malformed pages, keeping
//     what was already emitted
//   - drops non-object entries of the result list with a warning
//   - treats a next link equal to the current page as a protocol error
package pagination
