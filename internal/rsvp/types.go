// Package rsvp is the client for the lab machine leasing authority. It
// reserves, renews and releases hosts and resources, composes reservation
// class lists, and gates releases behind host readiness checks.
package rsvp

import (
	"fmt"
	"strings"
	"time"
)

// Host is a pool machine as reported by the leasing authority. Owner and
// Expiry are either both set or both absent.
type Host struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner,omitempty"`
	Expiry  int64    `json:"expiry,omitempty"` // epoch seconds, 0 when unleased
	Message string   `json:"message,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// Leased reports whether the host currently carries a lease.
func (h *Host) Leased() bool { return h.Owner != "" }

// Class is a named grouping of hosts or resources. A leaf class holds
// members directly; a composite class is the union of its member classes
// and never directly holds hosts.
type Class struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"` // member classes; set only for composites
	Hosts       []string `json:"hosts,omitempty"`   // direct members; set only for leaves
}

// Resource is a leasable non-host asset owned by a single class. Resources
// carry the same lease fields as hosts but are never health-checked.
type Resource struct {
	Name    string `json:"name"`
	Class   string `json:"class"`
	Owner   string `json:"owner,omitempty"`
	Expiry  int64  `json:"expiry,omitempty"`
	Message string `json:"message,omitempty"`
}

// SleptRange records an interval the client spent blocked waiting to retry.
// Kept only for diagnostics.
type SleptRange struct {
	Start    time.Time
	Duration time.Duration
}

// LeaseError is a lease-operation failure from the leasing authority.
// Temporary marks conditions worth retrying (not enough free hosts right
// now) as opposed to permanent ones (bad class name, host owned by someone
// else).
type LeaseError struct {
	Op        string
	Message   string
	Temporary bool
}

func (e *LeaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ReleaseStuckError reports hosts that survived every release attempt,
// along with the readiness complaint from the last attempt.
type ReleaseStuckError struct {
	Hosts     []string
	LastCheck error
}

func (e *ReleaseStuckError) Error() string {
	msg := fmt.Sprintf("hosts still reserved after release retries: %s", strings.Join(e.Hosts, ", "))
	if e.LastCheck != nil {
		msg += fmt.Sprintf(" (last readiness error: %v)", e.LastCheck)
	}
	return msg
}

// equalToken compares class tokens case-insensitively, whole tokens only.
func equalToken(a, b string) bool {
	return strings.EqualFold(a, b)
}

// containsToken reports whether the list holds the token, compared
// case-insensitively on whole tokens.
func containsToken(list []string, token string) bool {
	for _, t := range list {
		if equalToken(t, token) {
			return true
		}
	}
	return false
}
