package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// Status is the sync state of one account
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// AccountState is the coordinator's view of one account
type AccountState struct {
	AccountID    int64      `json:"account_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Status       Status     `json:"status"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	AuthFailed   bool       `json:"auth_failed"`
	// credentials is the account's updated_at when authentication failed
	credentials time.Time
}

// Registry tracks per-account sync state. It is owned by one Coordinator.
type Registry struct {
	mu     sync.RWMutex
	states map[int64]*AccountState
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{states: make(map[int64]*AccountState)}
}

// begin marks the account syncing; false if it already is
func (r *Registry) begin(acct *types.Account) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[acct.ID]
	if !ok {
		st = &AccountState{AccountID: acct.ID}
		r.states[acct.ID] = st
	}
	if st.Status == StatusSyncing {
		return false
	}
	st.Name = acct.Name
	st.Email = acct.Email
	st.Status = StatusSyncing
	return true
}

// finish records the outcome of a sync started with begin
func (r *Registry) finish(acct *types.Account, at time.Time, errMsg string, authFailed, anyOK bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[acct.ID]
	if st == nil {
		return
	}
	if anyOK {
		t := at
		st.LastSync = &t
	}
	st.ErrorMessage = errMsg
	st.AuthFailed = authFailed
	if authFailed {
		st.credentials = acct.UpdatedAt
	}
	if errMsg != "" {
		st.Status = StatusError
	} else {
		st.Status = StatusIdle
	}
}

// skip reports whether automatic cycles should leave the account alone:
// its password was rejected and the account row has not changed since
func (r *Registry) skip(acct *types.Account) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[acct.ID]
	return ok && st.AuthFailed && st.credentials.Equal(acct.UpdatedAt)
}

// Get returns a copy of one account's state
func (r *Registry) Get(id int64) (AccountState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	if !ok {
		return AccountState{}, false
	}
	return *st, true
}

// Snapshot returns copies of every tracked state ordered by account id
func (r *Registry) Snapshot() []AccountState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AccountState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
