package checker

import (
	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

// Verdict is the transport form of an Outcome.
type Verdict struct {
	Number   string         `json:"number"`
	Valid    bool           `json:"valid"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message"`
	Birthday string         `json:"birthday,omitempty"`
	Gender   *idcard.Gender `json:"gender,omitempty"`
}

// NewVerdict describes o for number.
func NewVerdict(number string, o idcard.Outcome) Verdict {
	v := Verdict{
		Number:  number,
		Valid:   o.Valid(),
		Reason:  o.Reason.String(),
		Message: o.Reason.Message(),
	}
	if o.Valid() {
		g := o.Gender
		v.Birthday = o.BirthdayISO()
		v.Gender = &g
	}
	return v
}

// CheckReply is returned by a stored check: the verdict plus the log record.
type CheckReply struct {
	Verdict
	Record validationlog.Record `json:"record"`
}
