package syncer

import (
	"errors"
	"sync"
	"time"
)

// Report counts what one pull, push or sync did.
type Report struct {
	Mirror    string    `json:"mirror"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Pulled    int       `json:"pulled"`
	Updated   int       `json:"updated"`
	Purged    int       `json:"purged"`
	Conflicts int       `json:"conflicts"`
	Pushed    int       `json:"pushed"`
	Deleted   int       `json:"deleted"`
	Retried   int       `json:"retried"`
	Skipped   int       `json:"skipped"`
	Errors    []string  `json:"errors,omitempty"`

	mu   sync.Mutex
	errs []error
}

func (r *Report) add(field *int) {
	r.mu.Lock()
	*field++
	r.mu.Unlock()
}

func (r *Report) fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.Errors = append(r.Errors, err.Error())
	r.mu.Unlock()
}

// Err joins every error recorded during the run.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

// Changed reports whether the run touched local data.
func (r *Report) Changed() bool {
	return r.Pulled+r.Updated+r.Purged > 0
}

// Check is one verification read made after a delete.
type Check struct {
	Attempt int    `json:"attempt"`
	Target  string `json:"target"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// DeleteReport describes a delete-and-verify run.
type DeleteReport struct {
	Key             string   `json:"key"`
	LocalDeleted    bool     `json:"local_deleted"`
	RemoteDeleted   bool     `json:"remote_deleted"`
	Purged          bool     `json:"purged"`
	Verified        bool     `json:"verified"`
	CatalogRepaired int      `json:"catalog_repaired"`
	Checks          []Check  `json:"checks"`
	Errors          []string `json:"errors,omitempty"`
}

// State is the last sync outcome persisted in store meta.
type State struct {
	Mirror      string    `json:"mirror"`
	Status      string    `json:"status"`
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	Error       string    `json:"error,omitempty"`
}

const (
	StatusNever   = "never"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusBusy    = "busy"
)

// Event is published to subscribers after each sync or delete.
type Event struct {
	Type   string        `json:"type"`
	At     time.Time     `json:"at"`
	Sync   *Report       `json:"sync,omitempty"`
	Delete *DeleteReport `json:"delete,omitempty"`
}
