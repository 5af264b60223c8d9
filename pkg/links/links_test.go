package links

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoplex/procjobs/pkg/job"
)

func TestLastPage(t *testing.T) {
	tests := []struct {
		total, limit, want int
	}{
		{0, 10, 0},
		{1, 10, 0},
		{10, 10, 0},
		{11, 10, 1},
		{25, 10, 2},
		{30, 10, 2},
		{5, 0, 0},
		{-3, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LastPage(tt.total, tt.limit), "total=%d limit=%d", tt.total, tt.limit)
	}
}

func byRel(links []Link) map[string]Link {
	out := make(map[string]Link, len(links))
	for _, l := range links {
		out[l.Rel] = l
	}
	return out
}

func TestBuildListLinksGlobal(t *testing.T) {
	c := ListContext{Base: "https://api.example.com", Query: url.Values{"status": {"running"}}}

	rels := byRel(BuildListLinks(c, 1, 10, 35))

	assert.Equal(t, "https://api.example.com/jobs?limit=10&page=1&status=running", rels["self"].Href)
	assert.Equal(t, "https://api.example.com/jobs?limit=10&page=0&status=running", rels["first"].Href)
	assert.Equal(t, "https://api.example.com/jobs?limit=10&page=3&status=running", rels["last"].Href)
	assert.Equal(t, "https://api.example.com/jobs?limit=10&page=2&status=running", rels["next"].Href)
	assert.Equal(t, "https://api.example.com/jobs?limit=10&page=0&status=running", rels["prev"].Href)
	assert.Equal(t, "https://api.example.com/jobs?status=running", rels["collection"].Href)
	assert.Equal(t, "https://api.example.com/jobs?status=running", rels["search"].Href)

	_, hasUp := rels["up"]
	assert.False(t, hasUp)
	_, hasAlt := rels["alternate"]
	assert.False(t, hasAlt)
}

func TestBuildListLinksBoundaries(t *testing.T) {
	c := ListContext{}

	t.Run("first page has no prev", func(t *testing.T) {
		rels := byRel(BuildListLinks(c, 0, 10, 35))
		_, ok := rels["prev"]
		assert.False(t, ok)
		assert.Contains(t, rels, "next")
	})

	t.Run("last page has no next", func(t *testing.T) {
		rels := byRel(BuildListLinks(c, 3, 10, 35))
		_, ok := rels["next"]
		assert.False(t, ok)
		assert.Contains(t, rels, "prev")
	})

	t.Run("empty listing collapses to page zero", func(t *testing.T) {
		rels := byRel(BuildListLinks(c, 0, 10, 0))
		assert.Equal(t, rels["self"].Href, rels["last"].Href)
		_, hasNext := rels["next"]
		_, hasPrev := rels["prev"]
		assert.False(t, hasNext)
		assert.False(t, hasPrev)
	})
}

func TestBuildListLinksScoped(t *testing.T) {
	t.Run("process scope", func(t *testing.T) {
		c := ListContext{ProcessID: "resample", Query: url.Values{"status": {"running"}}}
		rels := byRel(BuildListLinks(c, 2, 5, 30))

		assert.Equal(t, "/processes/resample/jobs?limit=5&page=2&status=running", rels["self"].Href)
		assert.Equal(t, "/processes/resample", rels["up"].Href)
		assert.Equal(t, "/processes/resample/jobs?status=running", rels["collection"].Href)
		// Search always reaches the global collection.
		assert.Equal(t, "/jobs?status=running", rels["search"].Href)
		// The alternate re-expresses the scope as a filter at the same window.
		assert.Equal(t, "/jobs?limit=5&page=2&process=resample&status=running", rels["alternate"].Href)
	})

	t.Run("provider scope", func(t *testing.T) {
		c := ListContext{ProviderID: "geoserver"}
		rels := byRel(BuildListLinks(c, 0, 10, 3))

		assert.Equal(t, "/providers/geoserver/jobs?limit=10&page=0", rels["self"].Href)
		assert.Equal(t, "/providers/geoserver", rels["up"].Href)
		assert.Equal(t, "/jobs?limit=10&page=0&provider=geoserver", rels["alternate"].Href)
	})
}

func TestJobLinks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mk := func(status job.Status) *job.Job {
		return &job.Job{ID: "j-1", Status: status, Created: now}
	}

	t.Run("running job has self and logs only", func(t *testing.T) {
		rels := byRel(JobLinks("", mk(job.StatusRunning)))
		assert.Equal(t, "/jobs/j-1", rels["self"].Href)
		assert.Equal(t, "/jobs/j-1/logs", rels["logs"].Href)
		assert.NotContains(t, rels, "results")
		assert.NotContains(t, rels, "exceptions")
	})

	t.Run("succeeded job links results", func(t *testing.T) {
		rels := byRel(JobLinks("https://api.example.com", mk(job.StatusSucceeded)))
		assert.Equal(t, "https://api.example.com/jobs/j-1/results", rels["results"].Href)
		assert.NotContains(t, rels, "exceptions")
	})

	t.Run("failed and dismissed jobs link exceptions", func(t *testing.T) {
		for _, st := range []job.Status{job.StatusFailed, job.StatusDismissed} {
			rels := byRel(JobLinks("", mk(st)))
			require.Contains(t, rels, "exceptions", "status %s", st)
			assert.NotContains(t, rels, "results")
		}
	})
}
