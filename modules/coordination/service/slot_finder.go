package service

import (
	"fmt"
	"sort"
	"time"

	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
)

// preferredHours are the start hours favored per event kind. Slots outside
// these hours are still offered when nothing better exists, flagged as
// out-of-window.
var preferredHours = map[eventEntity.EventKind]map[int]bool{
	eventEntity.EventKindDining:  {12: true, 13: true, 18: true, 19: true, 20: true},
	eventEntity.EventKindStudy:   {10: true, 11: true, 14: true, 15: true, 16: true},
	eventEntity.EventKindMeeting: {9: true, 10: true, 11: true, 14: true, 15: true, 16: true},
}

// SlotFinder generates and ranks candidate time slots from participant
// availability. All inputs come through FindSlots so results are a pure
// function of the snapshot; repeated runs over the same state produce the
// same ranking.
type SlotFinder struct {
	// DayStartHour and DayEndHour bound slot generation.
	DayStartHour int
	DayEndHour   int
	// HorizonDays is how far ahead slots are generated, starting tomorrow.
	HorizonDays int
	// MaxOptions caps the returned candidate list.
	MaxOptions int
}

func NewSlotFinder(horizonDays int) *SlotFinder {
	return &SlotFinder{
		DayStartHour: 9,
		DayEndHour:   21,
		HorizonDays:  horizonDays,
		MaxOptions:   10,
	}
}

type participantAvailability struct {
	UserRef string
	Windows []eventEntity.TimeWindow
}

// FindSlots ranks hourly slots over the search horizon. Weekends are
// skipped. A participant with no stated windows counts as available for any
// slot. Ranking: preferred hours before off-window hours, then most
// available participants, then earliest start.
func (sf *SlotFinder) FindSlots(
	now time.Time,
	kind eventEntity.EventKind,
	durationMinutes int,
	availability []participantAvailability,
	excludedOptionIDs map[string]bool,
) []entity.SlotOption {
	duration := time.Duration(durationMinutes) * time.Minute
	preferred := preferredHours[kind]

	dayOne := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)

	var options []entity.SlotOption
	for day := 0; day < sf.HorizonDays; day++ {
		date := dayOne.AddDate(0, 0, day)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		dayEnd := date.Add(time.Duration(sf.DayEndHour) * time.Hour)
		for hour := sf.DayStartHour; hour < sf.DayEndHour; hour++ {
			start := date.Add(time.Duration(hour) * time.Hour)
			end := start.Add(duration)
			if end.After(dayEnd) {
				continue
			}

			optionID := slotOptionID(start)
			if excludedOptionIDs[optionID] {
				continue
			}

			available := 0
			for _, pa := range availability {
				if availableFor(pa.Windows, start, end) {
					available++
				}
			}
			if available == 0 {
				continue
			}

			options = append(options, entity.SlotOption{
				OptionID:       optionID,
				Start:          start,
				End:            end,
				AvailableCount: available,
				TotalCount:     len(availability),
				InWindow:       preferred[hour],
			})
		}
	}

	sort.SliceStable(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if a.InWindow != b.InWindow {
			return a.InWindow
		}
		if a.AvailableCount != b.AvailableCount {
			return a.AvailableCount > b.AvailableCount
		}
		return a.Start.Before(b.Start)
	})

	if len(options) > sf.MaxOptions {
		options = options[:sf.MaxOptions]
	}
	return options
}

func availableFor(windows []eventEntity.TimeWindow, start, end time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}

func slotOptionID(start time.Time) string {
	return fmt.Sprintf("slot-%s", start.Format("20060102-1504"))
}
