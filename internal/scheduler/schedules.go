package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind distinguishes the three entry shapes the store understands.
type Kind string

const (
	KindOneShot  Kind = "one_shot"
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec parses a five-field cron expression (minute hour dom month dow).
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	return sched, nil
}

// onceSchedule fires exactly once at a fixed instant.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// intervalSchedule fires at start, start+period, ... up to and including end.
type intervalSchedule struct {
	start  time.Time
	end    time.Time
	period time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.start) {
		return s.start
	}
	k := t.Sub(s.start)/s.period + 1
	next := s.start.Add(k * s.period)
	if next.After(s.end) {
		return time.Time{}
	}
	return next
}

// locSchedule evaluates a wrapped schedule in a fixed location.
type locSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s locSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}
