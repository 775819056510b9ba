package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impala/lesson-engine/engine"
)

func TestTimetable_OrdersByDateThenTime(t *testing.T) {
	bookings := []engine.Booking{
		{ID: 1, Lessons: 3, Interval: engine.EveryWeek, Duration: engine.Minutes60,
			FirstDate: engine.NewDate(2022, time.September, 5), TimeOfDay: engine.TimeOfDay{Hour: 17}},
		{ID: 2, Lessons: 2, Interval: engine.EveryOtherWeek, Duration: engine.Minutes45,
			FirstDate: engine.NewDate(2022, time.September, 5), TimeOfDay: engine.TimeOfDay{Hour: 15, Minute: 30}},
	}
	september := engine.Period{Start: engine.StartOfMonth(2022, time.September), End: engine.EndOfMonth(2022, time.September)}

	lessons := engine.Timetable(bookings, september)
	require.Len(t, lessons, 5)

	assert.Equal(t, engine.BookingID(2), lessons[0].BookingID)
	assert.Equal(t, "15:30", lessons[0].Start.String())
	assert.Equal(t, "16:15", lessons[0].End.String())
	assert.Equal(t, engine.BookingID(1), lessons[1].BookingID)
	assert.Equal(t, "18:00", lessons[1].End.String())

	assert.Equal(t, engine.NewDate(2022, time.September, 12), lessons[2].Date)
	assert.Equal(t, 2, lessons[2].Number)
	assert.Equal(t, engine.NewDate(2022, time.September, 19), lessons[3].Date)
	assert.Equal(t, engine.NewDate(2022, time.September, 19), lessons[4].Date)
}

func TestTimetable_ClipsToPeriod(t *testing.T) {
	b := engine.Booking{ID: 1, Lessons: 7, Interval: engine.EveryWeek, Duration: engine.Minutes30,
		FirstDate: engine.NewDate(2022, time.September, 5)}
	october := engine.Period{Start: engine.StartOfMonth(2022, time.October), End: engine.EndOfMonth(2022, time.October)}

	lessons := engine.Timetable([]engine.Booking{b}, october)
	require.Len(t, lessons, 3)
	assert.Equal(t, 5, lessons[0].Number)
	assert.Equal(t, engine.NewDate(2022, time.October, 17), lessons[2].Date)
}

func TestLessonsByDate(t *testing.T) {
	b := engine.Booking{ID: 1, Lessons: 2, Interval: engine.EveryWeek, Duration: engine.Minutes30,
		FirstDate: engine.NewDate(2022, time.September, 5)}
	period := engine.Period{Start: engine.NewDate(2022, time.September, 1), End: engine.NewDate(2022, time.September, 30)}

	byDate := engine.LessonsByDate(engine.Timetable([]engine.Booking{b}, period))
	assert.Len(t, byDate, 2)
	assert.Len(t, byDate[engine.NewDate(2022, time.September, 12)], 1)
}
