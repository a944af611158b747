package gormstore

import (
	"encoding/json"
	"time"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

// logRow is the GORM model for one validation log record. Column names match
// the SQL migrations so both stores can share a PostgreSQL schema.
type logRow struct {
	ID             string     `gorm:"primaryKey;size:26"`
	Number         string     `gorm:"not null;index:idx_idcard_logs_number,priority:1"`
	Valid          bool       `gorm:"not null"`
	Birthday       *time.Time `gorm:"type:date"`
	Gender         *int16
	Reason         string    `gorm:"not null;default:''"`
	ValidationType string    `gorm:"size:100;not null;default:''"`
	Source         string    `gorm:"size:100;not null;default:''"`
	Details        *string   `gorm:"type:jsonb"`
	Actor          *string   `gorm:"index:idx_idcard_logs_actor"`
	CreatedFromIP  string    `gorm:"column:created_from_ip;not null;default:''"`
	UpdatedFromIP  string    `gorm:"column:updated_from_ip;not null;default:''"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false;index:idx_idcard_logs_number,priority:2;index:idx_idcard_logs_created"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (logRow) TableName() string { return "idcard_validation_logs" }

func toRow(id validationlog.ID, rec validationlog.Record) (logRow, error) {
	row := logRow{
		ID:             string(id),
		Number:         rec.Number,
		Valid:          rec.Valid,
		Reason:         rec.Reason,
		ValidationType: rec.ValidationType,
		Source:         rec.Source,
		CreatedFromIP:  rec.CreatedFromIP,
		UpdatedFromIP:  rec.CreatedFromIP,
		CreatedAt:      dbTime(rec.CreatedAt),
		UpdatedAt:      dbTime(rec.CreatedAt),
	}
	if rec.Birthday != nil {
		b, err := time.Parse(time.DateOnly, *rec.Birthday)
		if err != nil {
			return logRow{}, err
		}
		row.Birthday = &b
	}
	if rec.Gender != nil {
		g := int16(rec.Gender.Code())
		row.Gender = &g
	}
	if len(rec.Details) > 0 {
		d := string(rec.Details)
		row.Details = &d
	}
	if rec.Actor != "" {
		a := string(rec.Actor)
		row.Actor = &a
	}
	return row, nil
}

func (r logRow) record() validationlog.Record {
	rec := validationlog.Record{
		ID:             validationlog.ID(r.ID),
		Number:         r.Number,
		Valid:          r.Valid,
		Reason:         r.Reason,
		ValidationType: r.ValidationType,
		Source:         r.Source,
		CreatedFromIP:  r.CreatedFromIP,
		UpdatedFromIP:  r.UpdatedFromIP,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.Birthday != nil {
		b := r.Birthday.Format(time.DateOnly)
		rec.Birthday = &b
	}
	if r.Gender != nil {
		g := idcard.Gender(*r.Gender)
		rec.Gender = &g
	}
	if r.Details != nil && *r.Details != "" {
		rec.Details = json.RawMessage(*r.Details)
	}
	if r.Actor != nil {
		rec.Actor = validationlog.ActorID(*r.Actor)
	}
	return rec
}

func records(rows []logRow) []validationlog.Record {
	out := make([]validationlog.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out
}

// dbTime normalises to UTC microseconds, the finest precision PostgreSQL keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
