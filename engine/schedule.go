package engine

import "sort"

// Lesson is one occurrence of a booking on the timetable.
type Lesson struct {
	BookingID BookingID
	Date      Date
	Start     TimeOfDay
	End       TimeOfDay
	// Number is the 1-based position of the lesson within its booking.
	Number int
}

// Timetable expands bookings into their lessons falling within p, ordered
// by date and then by start time.
func Timetable(bookings []Booking, p Period) []Lesson {
	var lessons []Lesson
	for _, b := range bookings {
		for i, d := range b.Dates() {
			if !p.Contains(d) {
				continue
			}
			lessons = append(lessons, Lesson{
				BookingID: b.ID,
				Date:      d,
				Start:     b.TimeOfDay,
				End:       b.TimeOfDay.Add(b.Duration),
				Number:    i + 1,
			})
		}
	}
	sort.SliceStable(lessons, func(i, j int) bool {
		if !lessons[i].Date.Equal(lessons[j].Date) {
			return lessons[i].Date.Before(lessons[j].Date)
		}
		return lessons[i].Start.Before(lessons[j].Start)
	})
	return lessons
}

// LessonsByDate groups a timetable by day, keeping the time order.
func LessonsByDate(lessons []Lesson) map[Date][]Lesson {
	byDate := make(map[Date][]Lesson)
	for _, l := range lessons {
		byDate[l.Date] = append(byDate[l.Date], l)
	}
	return byDate
}
