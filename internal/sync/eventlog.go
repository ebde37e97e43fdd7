package syncx

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types written by the attempt engine and the sweep.
const (
	TypeAttemptStarted   = "AttemptStarted"
	TypeAttemptSubmitted = "AttemptSubmitted"
	TypeAttemptExpired   = "AttemptExpired"
	TypeAttemptSwept     = "AttemptSwept"
)

type Event struct {
	Seq       int64  `db:"seq" json:"seq"`
	SiteID    string `db:"site_id" json:"site_id"`
	Type      string `db:"typ" json:"type"`
	Key       string `db:"key" json:"key"`
	DataJSON  string `db:"data" json:"data"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// EventRepo is the append-only audit log.
type EventRepo struct {
	db     *sqlx.DB
	siteID string
	now    func() time.Time
}

func NewEventRepo(db *sqlx.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID, now: time.Now}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, e.DataJSON, r.now().Unix())
	return err
}

// Record marshals payload and appends it. Audit failures are logged and
// swallowed; they never fail the operation being audited.
func (r *EventRepo) Record(ctx context.Context, typ, key string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[events] marshal %s %s: %v", typ, key, err)
		return
	}
	if err := r.Append(ctx, Event{Type: typ, Key: key, DataJSON: string(b)}); err != nil {
		log.Printf("[events] append %s %s: %v", typ, key, err)
	}
}

// ListByKey returns the events of one key (an attempt id) in append order.
func (r *EventRepo) ListByKey(ctx context.Context, key string) ([]Event, error) {
	out := []Event{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log WHERE key=$1 ORDER BY seq`, key)
	return out, err
}
