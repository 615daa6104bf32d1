package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"bookline/internal/domain"
	"bookline/internal/events"
	"bookline/internal/timerange"
)

// BlockOptions are parameters for creating a schedule block.
type BlockOptions struct {
	ProfessionalID string
	Kind           string
	StartDate      string
	EndDate        string
	TimeRanges     []domain.TimeRange
	Reason         string
	Actor          domain.Actor
}

func validateBlock(b domain.ScheduleBlock) error {
	if err := requireID("professional_id", b.ProfessionalID); err != nil {
		return err
	}
	if b.Kind != domain.BlockSingleDay && b.Kind != domain.BlockDateRange {
		return invalid("kind", "must be %s or %s", domain.BlockSingleDay, domain.BlockDateRange)
	}
	if _, err := timerange.ParseDate(b.StartDate); err != nil {
		return invalid("start_date", "%v", err)
	}
	if _, err := timerange.ParseDate(b.EndDate); err != nil {
		return invalid("end_date", "%v", err)
	}
	if b.StartDate > b.EndDate {
		return invalid("end_date", "%s is before start_date %s", b.EndDate, b.StartDate)
	}
	if b.Kind == domain.BlockSingleDay && b.StartDate != b.EndDate {
		return invalid("end_date", "single_day block must end on its start date")
	}
	if err := timerange.ValidateRanges(b.TimeRanges); err != nil {
		return invalid("time_ranges", "%v", err)
	}
	return nil
}

// CreateBlock stores a professional's unavailability window.
func (e Engine) CreateBlock(ctx context.Context, opts BlockOptions) (domain.ScheduleBlock, error) {
	if err := requireActor(opts.Actor); err != nil {
		return domain.ScheduleBlock{}, err
	}
	if opts.EndDate == "" {
		opts.EndDate = opts.StartDate
	}
	if opts.Kind == "" {
		opts.Kind = domain.BlockDateRange
		if opts.StartDate == opts.EndDate {
			opts.Kind = domain.BlockSingleDay
		}
	}
	ranges := make([]domain.TimeRange, len(opts.TimeRanges))
	copy(ranges, opts.TimeRanges)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	b := domain.ScheduleBlock{
		ID:             uuid.NewString(),
		ProfessionalID: opts.ProfessionalID,
		Kind:           opts.Kind,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
		TimeRanges:     ranges,
		Reason:         opts.Reason,
		CreatedAt:      e.stamp(),
	}
	if err := validateBlock(b); err != nil {
		return domain.ScheduleBlock{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleBlock{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, opts.Actor, b.ProfessionalID, domain.PermManageSchedule); err != nil {
		return domain.ScheduleBlock{}, err
	}
	if err := e.Repo.InsertBlock(ctx, tx, b); err != nil {
		return domain.ScheduleBlock{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BlockCreated, events.KindBlock, b.ID, opts.Actor.ID, events.EventPayload{
		"professional_id": b.ProfessionalID,
		"kind":            b.Kind,
		"start_date":      b.StartDate,
		"end_date":        b.EndDate,
		"whole_day":       b.WholeDay(),
	}); err != nil {
		return domain.ScheduleBlock{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleBlock{}, err
	}
	return b, nil
}

// RemoveBlock deletes a block; only its professional or a delegate may do so.
func (e Engine) RemoveBlock(ctx context.Context, id string, actor domain.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBlock(ctx, tx, id)
	if err != nil {
		return notFound(err, "block", id)
	}
	if err := e.Auth.Require(ctx, tx, actor, b.ProfessionalID, domain.PermManageSchedule); err != nil {
		return err
	}
	if err := e.Repo.DeleteBlock(ctx, tx, id); err != nil {
		return notFound(err, "block", id)
	}
	if err := e.Events.Append(ctx, tx, events.BlockRemoved, events.KindBlock, id, actor.ID, events.EventPayload{
		"professional_id": b.ProfessionalID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetBlock(ctx context.Context, id string) (domain.ScheduleBlock, error) {
	b, err := e.Repo.GetBlock(ctx, nil, id)
	return b, notFound(err, "block", id)
}

// ListBlocks returns every block of the professional.
func (e Engine) ListBlocks(ctx context.Context, professionalID string) ([]domain.ScheduleBlock, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return nil, err
	}
	return e.Repo.BlocksOverlapping(ctx, nil, professionalID, "", "")
}

// BlockedDay is one calendar day touched by at least one block.
type BlockedDay struct {
	Date     string `json:"date" format:"date"`
	WholeDay bool   `json:"whole_day"`
}

// BlockedDatesInRange expands blocks overlapping [from, to] into individual days.
func (e Engine) BlockedDatesInRange(ctx context.Context, professionalID, from, to string) ([]BlockedDay, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return nil, err
	}
	fromDay, err := timerange.ParseDate(from)
	if err != nil {
		return nil, invalid("from", "%v", err)
	}
	toDay, err := timerange.ParseDate(to)
	if err != nil {
		return nil, invalid("to", "%v", err)
	}
	if toDay.Before(fromDay) {
		return nil, invalid("to", "%s is before from %s", to, from)
	}
	if toDay.Sub(fromDay) > 366*24*time.Hour {
		return nil, invalid("to", "range is limited to one year")
	}
	blocks, err := e.Repo.BlocksOverlapping(ctx, nil, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	days := map[string]bool{}
	for _, b := range blocks {
		start, end, ok := timerange.Overlap(b.StartDate, b.EndDate, from, to)
		if !ok {
			continue
		}
		expanded, err := timerange.ExpandDays(start, end)
		if err != nil {
			return nil, err
		}
		for _, d := range expanded {
			days[d] = days[d] || b.WholeDay()
		}
	}
	res := make([]BlockedDay, 0, len(days))
	for d, whole := range days {
		res = append(res, BlockedDay{Date: d, WholeDay: whole})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date < res[j].Date })
	return res, nil
}
