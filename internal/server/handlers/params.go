package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/geoplex/procjobs/internal/errors"
	"github.com/geoplex/procjobs/pkg/query"
)

// truthy interprets the boolean-ish detail token: true/1/yes are truthy,
// absence or anything else is falsy.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func splitComma(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(v, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// parseListSpec builds the raw query spec from the listing parameters.
// Syntactic failures (non-numeric page/limit/durations, clashing aliases)
// are bad requests; semantic validation happens in the query engine.
func (h *Handlers) parseListSpec(r *http.Request) (query.Spec, bool, error) {
	q := r.URL.Query()
	s := query.Spec{
		ProcessID:    q.Get("process"),
		JobType:      q.Get("type"),
		Status:       q.Get("status"),
		Tags:         splitComma(q.Get("tags")),
		Access:       q.Get("access"),
		Notification: q.Get("notification"),
		Datetime:     q.Get("datetime"),
		Groups:       splitComma(q.Get("groups")),
		Sort:         q.Get("sort"),
		Limit:        h.cfg.DefaultLimit,
	}

	// service and provider are aliases for the same filter.
	service, provider := q.Get("service"), q.Get("provider")
	switch {
	case service != "" && provider != "" && service != provider:
		return s, false, &apperrors.BadRequestError{Field: "provider", Value: provider, Reason: "conflicts with service parameter"}
	case service != "":
		s.ServiceID = service
	default:
		s.ServiceID = provider
	}

	if v := q.Get("minDuration"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return s, false, &apperrors.BadRequestError{Field: "minDuration", Value: v, Reason: "must be an integer number of seconds"}
		}
		s.MinDuration = &n
	}
	if v := q.Get("maxDuration"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return s, false, &apperrors.BadRequestError{Field: "maxDuration", Value: v, Reason: "must be an integer number of seconds"}
		}
		s.MaxDuration = &n
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return s, false, &apperrors.BadRequestError{Field: "page", Value: v, Reason: "must be a non-negative integer"}
		}
		s.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s, false, &apperrors.BadRequestError{Field: "limit", Value: v, Reason: "must be a positive integer"}
		}
		if n > h.cfg.MaxLimit {
			n = h.cfg.MaxLimit
		}
		s.Limit = n
	}

	return s, truthy(q.Get("detail")), nil
}

// linkQuery carries the active filter parameters into generated links.
// Paging parameters are re-derived per link; context parameters re-encoded in
// the path are stripped.
func linkQuery(r *http.Request, scoped bool) url.Values {
	q := r.URL.Query()
	out := make(url.Values, len(q))
	for k, vs := range q {
		switch k {
		case "page", "limit":
			continue
		case "process", "service", "provider":
			if scoped {
				continue
			}
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
