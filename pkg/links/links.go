// Package links builds the hypermedia navigation set for job resources,
// rebased to the request's collection context.
package links

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/geoplex/procjobs/pkg/job"
)

const mediaTypeJSON = "application/json"

// Link is one hypermedia reference embedded in a response.
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// ListContext captures where a listing request was addressed: the global job
// collection, a single process's jobs, or a single provider's jobs.
type ListContext struct {
	// Base is the external base URL (scheme://host[/prefix]); empty yields
	// rootless relative hrefs.
	Base string

	// ProcessID scopes the context to one process's job sub-collection.
	ProcessID string

	// ProviderID scopes the context to one provider's job sub-collection.
	ProviderID string

	// Query holds the active filter parameters. The identifying context
	// parameter is already encoded in the path and must not appear here.
	Query url.Values
}

// Scoped reports whether the context is a process or provider sub-collection.
func (c ListContext) Scoped() bool {
	return c.ProcessID != "" || c.ProviderID != ""
}

// collectionPath is the canonical sub-collection path for the context.
func (c ListContext) collectionPath() string {
	switch {
	case c.ProcessID != "":
		return "/processes/" + url.PathEscape(c.ProcessID) + "/jobs"
	case c.ProviderID != "":
		return "/providers/" + url.PathEscape(c.ProviderID) + "/jobs"
	default:
		return "/jobs"
	}
}

// parentPath is the owning resource path, empty for the global context.
func (c ListContext) parentPath() string {
	switch {
	case c.ProcessID != "":
		return "/processes/" + url.PathEscape(c.ProcessID)
	case c.ProviderID != "":
		return "/providers/" + url.PathEscape(c.ProviderID)
	default:
		return ""
	}
}

// LastPage returns the last computable zero-based page index for a paged
// listing: ceil(total/limit)-1, or 0 when total is 0.
func LastPage(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total+limit-1)/limit - 1
}

// BuildListLinks emits the full navigation set for a job listing page.
//
// next/prev are omitted at their respective boundaries; up and alternate are
// present only for scoped contexts; search always points at the global
// collection so a scoped view can reach full-corpus search.
func BuildListLinks(c ListContext, page, limit, total int) []Link {
	last := LastPage(total, limit)

	out := []Link{
		pageLink(c, "self", "current page", page, limit),
		pageLink(c, "first", "first page", 0, limit),
		pageLink(c, "last", "last page", last, limit),
	}
	if page < last {
		out = append(out, pageLink(c, "next", "next page", page+1, limit))
	}
	if page > 0 {
		out = append(out, pageLink(c, "prev", "previous page", page-1, limit))
	}

	if parent := c.parentPath(); parent != "" {
		out = append(out, Link{Href: c.Base + parent, Rel: "up", Type: mediaTypeJSON, Title: "parent resource"})
	}

	out = append(out, Link{
		Href: buildHref(c.Base, c.collectionPath(), c.Query),
		Rel:  "collection", Type: mediaTypeJSON, Title: "job collection",
	})
	out = append(out, Link{
		Href: buildHref(c.Base, "/jobs", c.Query),
		Rel:  "search", Type: mediaTypeJSON, Title: "job search",
	})

	if c.Scoped() {
		// Equivalent unscoped view: same filters and page window, with the
		// context re-expressed as an explicit filter parameter.
		q := cloneValues(c.Query)
		if c.ProcessID != "" {
			q.Set("process", c.ProcessID)
		} else {
			q.Set("provider", c.ProviderID)
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(limit))
		out = append(out, Link{
			Href: buildHref(c.Base, "/jobs", q),
			Rel:  "alternate", Type: mediaTypeJSON, Title: "unscoped job listing",
		})
	}

	return out
}

// JobLinks emits the per-job navigation set: self and logs always, plus
// results for a succeeded job or exceptions for a failed one.
func JobLinks(base string, j *job.Job) []Link {
	jobPath := base + "/jobs/" + url.PathEscape(j.ID)
	out := []Link{
		{Href: jobPath, Rel: "self", Type: mediaTypeJSON, Title: "job status"},
		{Href: jobPath + "/logs", Rel: "logs", Type: mediaTypeJSON, Title: "job logs"},
	}
	switch j.Status.Category() {
	case job.CategorySuccess:
		out = append(out, Link{Href: jobPath + "/results", Rel: "results", Type: mediaTypeJSON, Title: "job results"})
	case job.CategoryFailure:
		out = append(out, Link{Href: jobPath + "/exceptions", Rel: "exceptions", Type: mediaTypeJSON, Title: "job exceptions"})
	}
	return out
}

func pageLink(c ListContext, rel, title string, page, limit int) Link {
	q := cloneValues(c.Query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return Link{
		Href:  buildHref(c.Base, c.collectionPath(), q),
		Rel:   rel,
		Type:  mediaTypeJSON,
		Title: fmt.Sprintf("%s of job listing", title),
	}
}

func buildHref(base, path string, q url.Values) string {
	href := base + path
	if len(q) > 0 {
		href += "?" + q.Encode()
	}
	return href
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q)+2)
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
