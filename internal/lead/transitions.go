// Package lead owns the lead lifecycle: the transition table, guarded status
// changes, promotion of opportunities into prospected leads, and leads created
// from page comments.
package lead

import (
	"fmt"
	"sort"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/models"
)

// Operation names a lifecycle step that moves a lead between statuses.
type Operation string

const (
	OpProspect         Operation = "prospect"
	OpFailProspecting  Operation = "fail_prospecting"
	OpEngage           Operation = "engage"
	OpFailEngagement   Operation = "fail_engagement"
	OpMessage          Operation = "message"
	OpOfferAppointment Operation = "offer_appointment"
	OpBookAppointment  Operation = "book_appointment"
	OpReschedule       Operation = "reschedule"
	OpNoShow           Operation = "no_show"
	OpRequeue          Operation = "requeue"
	OpDisqualify       Operation = "disqualify"
)

var transitions = map[Operation]map[models.LeadStatus]models.LeadStatus{
	OpProspect: {
		models.StatusIdentified: models.StatusProspected,
	},
	OpFailProspecting: {
		models.StatusIdentified: models.StatusProspectingFailed,
	},
	OpEngage: {
		models.StatusProspected: models.StatusEngaged,
	},
	OpFailEngagement: {
		models.StatusEngaged: models.StatusEngagementFailed,
	},
	OpMessage: {
		models.StatusEngaged: models.StatusMessaged,
	},
	OpOfferAppointment: {
		models.StatusMessaged:       models.StatusAppointmentOffered,
		models.StatusNoShowFollowUp: models.StatusAppointmentOffered,
	},
	OpBookAppointment: {
		models.StatusAppointmentOffered: models.StatusAppointmentSet,
	},
	OpReschedule: {
		models.StatusAppointmentSet: models.StatusAppointmentOffered,
	},
	OpNoShow: {
		models.StatusAppointmentSet: models.StatusNoShowFollowUp,
	},
	OpRequeue: {
		models.StatusProspectingFailed: models.StatusIdentified,
		models.StatusEngagementFailed:  models.StatusProspected,
	},
	OpDisqualify: disqualifyFrom(),
}

func disqualifyFrom() map[models.LeadStatus]models.LeadStatus {
	m := make(map[models.LeadStatus]models.LeadStatus)
	for _, s := range models.AllStatuses {
		if s != models.StatusDisqualified {
			m[s] = models.StatusDisqualified
		}
	}
	return m
}

// TransitionError reports an operation that is not permitted from the lead's
// current status.
type TransitionError struct {
	Op   Operation
	From models.LeadStatus
}

func (e *TransitionError) Error() string {
	if _, ok := transitions[e.Op]; !ok {
		return fmt.Sprintf("unknown operation %q", e.Op)
	}
	return fmt.Sprintf("cannot %s a lead in status %q", e.Op, e.From)
}

// Unwrap exposes a Conflict so the HTTP layer answers 409.
func (e *TransitionError) Unwrap() error {
	return apperr.Conflict(e.Error())
}

// Next resolves the status op leads to from the given status.
func Next(from models.LeadStatus, op Operation) (models.LeadStatus, error) {
	to, ok := transitions[op][from]
	if !ok {
		return "", &TransitionError{Op: op, From: from}
	}
	return to, nil
}

// Allowed lists the statuses op may start from, sorted for stable output.
func Allowed(op Operation) []models.LeadStatus {
	var out []models.LeadStatus
	for from := range transitions[op] {
		out = append(out, from)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseOperation accepts the operation names used by the transition endpoint.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(s)
	_, ok := transitions[op]
	return op, ok
}

// Operations returns every known operation name.
func Operations() []Operation {
	out := make([]Operation, 0, len(transitions))
	for op := range transitions {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
