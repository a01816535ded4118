package engine

import "github.com/orlandoq/guildpost/model"

// Operation names, also used as audit log event labels.
const (
	OpPublish         = "publish"
	OpClaim           = "claim"
	OpSubmit          = "submit"
	OpConfirm         = "confirm"
	OpForceEnd        = "force_end"
	OpExpire          = "expire"
	OpSetAvailability = "set_availability"
	OpRegister        = "register"
)

// transition is one row of the assignment state machine:
//
//	UNANSWERED --claim--> ONGOING --submit--> SUBMITTED --confirm--> CONFIRMED
//	ONGOING/SUBMITTED --timeout----> TIMEOUT
//	ONGOING/SUBMITTED --force_end--> FORCED_END
//
// No other transitions are legal.
type transition struct {
	from []model.AssignmentStatus
	to   model.AssignmentStatus
}

// transitionTable maps operation name to its legal source statuses and
// target status. It is fixed at init and consulted on every mutating call;
// there is no other registration mechanism.
var transitionTable = map[string]transition{
	OpClaim: {
		from: []model.AssignmentStatus{model.AssignmentUnanswered},
		to:   model.AssignmentOngoing,
	},
	OpSubmit: {
		from: []model.AssignmentStatus{model.AssignmentOngoing},
		to:   model.AssignmentSubmitted,
	},
	OpConfirm: {
		from: []model.AssignmentStatus{model.AssignmentSubmitted},
		to:   model.AssignmentConfirmed,
	},
	OpExpire: {
		from: []model.AssignmentStatus{model.AssignmentOngoing, model.AssignmentSubmitted},
		to:   model.AssignmentTimeout,
	},
	OpForceEnd: {
		from: []model.AssignmentStatus{model.AssignmentOngoing, model.AssignmentSubmitted},
		to:   model.AssignmentForcedEnd,
	},
}

// allows reports whether op may move an assignment out of cur, and returns
// the target status when it may.
func allows(op string, cur model.AssignmentStatus) (model.AssignmentStatus, bool) {
	t, ok := transitionTable[op]
	if !ok {
		return "", false
	}
	for _, f := range t.from {
		if f == cur {
			return t.to, true
		}
	}
	return "", false
}
