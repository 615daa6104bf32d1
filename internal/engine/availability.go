package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"bookline/internal/domain"
	"bookline/internal/repo"
	"bookline/internal/timerange"
)

func validateSlot(date, clock string) error {
	if _, err := timerange.ParseDate(date); err != nil {
		return invalid("date", "%v", err)
	}
	if _, err := timerange.ParseClock(clock); err != nil {
		return invalid("time", "%v", err)
	}
	return nil
}

// SlotStatus resolves a slot: a block wins over an appointment, which wins
// over available.
func (e Engine) SlotStatus(ctx context.Context, professionalID, date, clock string) (string, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return "", err
	}
	if err := validateSlot(date, clock); err != nil {
		return "", err
	}
	return e.slotStatusTx(ctx, nil, professionalID, date, clock)
}

func (e Engine) slotStatusTx(ctx context.Context, tx *sql.Tx, professionalID, date, clock string) (string, error) {
	blocks, err := e.Repo.BlocksOverlapping(ctx, tx, professionalID, date, date)
	if err != nil {
		return "", err
	}
	if slotBlocked(blocks, date, clock) {
		return domain.SlotBlocked, nil
	}
	_, err = e.Repo.ActiveAppointmentAt(ctx, tx, professionalID, date, clock)
	switch {
	case err == nil:
		return domain.SlotOccupied, nil
	case errors.Is(err, repo.ErrNotFound):
		return domain.SlotAvailable, nil
	}
	return "", err
}

func slotBlocked(blocks []domain.ScheduleBlock, date, clock string) bool {
	for _, b := range blocks {
		if !timerange.DateInRange(date, b.StartDate, b.EndDate) {
			continue
		}
		if b.WholeDay() || timerange.TimeInAnyRange(clock, b.TimeRanges) {
			return true
		}
	}
	return false
}

func wholeDayBlocked(blocks []domain.ScheduleBlock, date string) bool {
	for _, b := range blocks {
		if b.WholeDay() && timerange.DateInRange(date, b.StartDate, b.EndDate) {
			return true
		}
	}
	return false
}

// DateFullyBlocked reports whether a whole-day block covers date.
func (e Engine) DateFullyBlocked(ctx context.Context, professionalID, date string) (bool, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return false, err
	}
	if _, err := timerange.ParseDate(date); err != nil {
		return false, invalid("date", "%v", err)
	}
	blocks, err := e.Repo.BlocksOverlapping(ctx, nil, professionalID, date, date)
	if err != nil {
		return false, err
	}
	return wholeDayBlocked(blocks, date), nil
}

type SlotView struct {
	Time   string `json:"time" example:"09:00"`
	Status string `json:"status" enum:"available,blocked,occupied"`
}

type DayView struct {
	ProfessionalID string     `json:"professional_id"`
	Date           string     `json:"date" format:"date"`
	FullyBlocked   bool       `json:"fully_blocked"`
	Slots          []SlotView `json:"slots"`
}

// DaySlots lists the working-day grid with each slot's status. Booked times
// outside the grid are included too.
func (e Engine) DaySlots(ctx context.Context, professionalID, date string) (DayView, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return DayView{}, err
	}
	if _, err := timerange.ParseDate(date); err != nil {
		return DayView{}, invalid("date", "%v", err)
	}
	day := e.Config.Scheduling.Day
	grid, err := timerange.Slots(day.Start, day.End, day.SlotMinutes)
	if err != nil {
		return DayView{}, err
	}
	blocks, err := e.Repo.BlocksOverlapping(ctx, nil, professionalID, date, date)
	if err != nil {
		return DayView{}, err
	}
	occupied, err := e.Repo.OccupiedTimes(ctx, nil, professionalID, date)
	if err != nil {
		return DayView{}, err
	}
	times := map[string]bool{}
	for _, t := range grid {
		times[t] = true
	}
	for t := range occupied {
		times[t] = true
	}
	view := DayView{ProfessionalID: professionalID, Date: date, FullyBlocked: wholeDayBlocked(blocks, date)}
	for t := range times {
		status := domain.SlotAvailable
		switch {
		case slotBlocked(blocks, date, t):
			status = domain.SlotBlocked
		case occupied[t]:
			status = domain.SlotOccupied
		}
		view.Slots = append(view.Slots, SlotView{Time: t, Status: status})
	}
	sort.Slice(view.Slots, func(i, j int) bool { return view.Slots[i].Time < view.Slots[j].Time })
	return view, nil
}
