// Package handlers implements the HTTP request handlers for the job API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/geoplex/procjobs/internal/errors"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
	"github.com/geoplex/procjobs/pkg/lifecycle"
	"github.com/geoplex/procjobs/pkg/query"
)

// Identity headers set by the upstream gateway. Authentication itself is
// outside this core; handlers consume the resolved identity.
const (
	HeaderRemoteUser  = "X-Remote-User"
	HeaderRemoteAdmin = "X-Remote-Admin"
)

// Config holds the handler-level settings.
type Config struct {
	// BaseURL prefixes generated links; empty yields relative hrefs.
	BaseURL string

	// MaxSyncWait is W_max in seconds.
	MaxSyncWait int

	DefaultLimit int
	MaxLimit     int
}

// Handlers carries the injected collaborators for every route.
type Handlers struct {
	cfg        Config
	store      jobstore.Store
	controller *lifecycle.Controller
	engine     *query.Engine
	directory  Directory
	runner     lifecycle.Runner
	log        *zap.Logger
	now        func() time.Time
}

// New wires the handler set. runner may be nil when no execution backend is
// attached (jobs then stay accepted until an external collaborator reports).
func New(cfg Config, store jobstore.Store, controller *lifecycle.Controller, engine *query.Engine, directory Directory, runner lifecycle.Runner, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		cfg:        cfg,
		store:      store,
		controller: controller,
		engine:     engine,
		directory:  directory,
		runner:     runner,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// identity resolves the requesting identity from the gateway headers.
func identity(r *http.Request) query.Identity {
	return query.Identity{
		Sub:   strings.TrimSpace(r.Header.Get(HeaderRemoteUser)),
		Admin: strings.EqualFold(r.Header.Get(HeaderRemoteAdmin), "true"),
	}
}

// visibleTo applies the single-job visibility rule: owners, elevated
// identities and public jobs only. Invisible jobs are reported as not-found
// on every entry point so existence is never leaked.
func visibleTo(j *job.Job, ident query.Identity) bool {
	if ident.Admin {
		return true
	}
	if j.Access == job.AccessPublic {
		return true
	}
	return !ident.Anonymous() && j.UserID == ident.Sub
}

// canModify reports whether the identity may dismiss or delete the job.
func canModify(j *job.Job, ident query.Identity) bool {
	if ident.Admin {
		return true
	}
	return !ident.Anonymous() && j.UserID == ident.Sub
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
