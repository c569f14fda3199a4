// This file contains the availability gate: the open/closed decision
// combining the stored open flag, the externally stored business-hours
// schedule, and staff coverage. Schedule lookups run off the engine turn
// and re-enter the loop with their verdict.
package chatrelay

import (
	"context"
	"time"
)

const scheduleLookupTimeout = 5 * time.Second

// scheduleOpenAt evaluates the business-hours schedule at t. A missing day
// or a day with neither boundary set is closed; a nil open boundary means
// open from start of day, a nil close boundary means open until end of day.
func scheduleOpenAt(schedule WeekSchedule, t time.Time) bool {
	day := int(t.Weekday())
	if day == 0 {
		// The schedule calls Sunday day 7.
		day = 7
	}
	today, ok := schedule[day]
	if !ok {
		return false
	}
	if today.Open == nil && today.Close == nil {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	if (today.Open == nil || *today.Open <= minutes) &&
		(today.Close == nil || *today.Close > minutes) {
		return true
	}
	return false
}

// requestStatus answers one session with the current effective status. The
// reply always goes out, even when nothing changed.
func (e *Engine) requestStatus(sessionID string) {
	e.lookupSchedule(sessionID)
}

// computeAvailability recomputes the ambient open status. A change in the
// result triggers exactly one broadcast to everyone; an unchanged result is
// silent.
func (e *Engine) computeAvailability() {
	e.lookupSchedule("")
}

func (e *Engine) lookupSchedule(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, scheduleLookupTimeout)
		defer cancel()

		verdict := false
		schedule, err := e.store.Schedule(ctx)
		if err != nil {
			// Fail safe toward unavailable rather than silently open.
			e.logger.Warn("schedule lookup failed, treating as closed", "error", err)
			e.hooks.metrics().Error("schedule", err)
		} else {
			verdict = scheduleOpenAt(schedule, e.now())
		}
		e.post(func() {
			e.finishStatus(sessionID, verdict)
		})
	}()
}

// finishStatus runs back on the engine loop with the schedule verdict.
func (e *Engine) finishStatus(sessionID string, scheduleOpen bool) {
	if sessionID != "" {
		// Addressed request: reply with the last-known effective status
		// combined with the fresh verdict, without touching stored state.
		e.hub.PublishToClient(sessionID, openStatusMessage{
			Callback:     callbackOpenStatus,
			Open:         e.openStatus && scheduleOpen,
			ScheduleOpen: scheduleOpen,
		})
		return
	}

	// Open only while the schedule says so and staff are actually
	// connected; an open schedule with nobody to answer is closed.
	staff := 0
	if admin, ok := e.hub.Channel(AdminChannel); ok {
		staff = admin.memberCount()
	}
	status := false
	if staff > 0 {
		status = scheduleOpen
	}

	if status != e.openStatus {
		e.hub.BroadcastToAll(openStatusMessage{
			Callback:     callbackOpenStatus,
			Open:         status,
			ScheduleOpen: scheduleOpen,
		})
		e.hooks.metrics().BroadcastSent("", callbackOpenStatus)
		e.logger.Info("availability changed", "open", status, "schedule_open", scheduleOpen, "staff", staff)
	}
	e.openStatus = status
}
