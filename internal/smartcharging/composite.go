package smartcharging

import (
	"sort"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// entry is one expanded, time-bounded slice of a single installed profile.
type entry struct {
	start, end  time.Time
	limit       float64
	numberPhases *int
	unit        v16.ChargingRateUnit
	stackLevel  int
	installedAt time.Time
	purpose     v16.ChargingProfilePurpose
}

func phasesOrDefault(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func convert(value float64, from, to v16.ChargingRateUnit, numberPhases int, supplyVoltage float64) float64 {
	if from == to || from == "" || to == "" {
		return value
	}
	if numberPhases <= 0 {
		numberPhases = 3
	}
	switch {
	case from == v16.ChargingRateUnitA && to == v16.ChargingRateUnitW:
		return value * supplyVoltage * float64(numberPhases)
	case from == v16.ChargingRateUnitW && to == v16.ChargingRateUnitA:
		if supplyVoltage == 0 {
			return 0
		}
		return value / (supplyVoltage * float64(numberPhases))
	default:
		return value
	}
}

// expandProfile expands one installed ChargingProfile into time-bounded
// entries intersected with [windowStart, windowEnd] and the profile's own
// [validFrom, validTo].
func expandProfile(rec *installed, windowStart, windowEnd time.Time, sessionStart *time.Time) []entry {
	p := rec.profile
	sched := p.ChargingSchedule

	vs, ve := windowStart, windowEnd
	if p.ValidFrom != nil && p.ValidFrom.Time.After(vs) {
		vs = p.ValidFrom.Time
	}
	if p.ValidTo != nil && p.ValidTo.Time.Before(ve) {
		ve = p.ValidTo.Time
	}
	if !vs.Before(ve) {
		return nil
	}

	var anchors []time.Time
	switch p.ChargingProfileKind {
	case v16.ChargingProfileKindAbsolute:
		if sched.StartSchedule == nil {
			return nil
		}
		anchors = []time.Time{sched.StartSchedule.Time}
	case v16.ChargingProfileKindRelative:
		if sessionStart == nil {
			return nil
		}
		anchors = []time.Time{*sessionStart}
	case v16.ChargingProfileKindRecurring:
		if sched.StartSchedule == nil {
			return nil
		}
		period := 24 * time.Hour
		if p.RecurrencyKind == v16.RecurrencyKindWeekly {
			period = 7 * 24 * time.Hour
		}
		anchors = recurrenceAnchors(sched.StartSchedule.Time, period, vs, ve)
	default:
		return nil
	}

	var out []entry
	for i, anchor := range anchors {
		var nextAnchor *time.Time
		if i+1 < len(anchors) {
			nextAnchor = &anchors[i+1]
		}
		out = append(out, expandAnchored(rec, anchor, sched, vs, ve, nextAnchor)...)
	}
	return out
}

// recurrenceAnchors returns every occurrence of period-aligned anchor time
// that could contribute an entry overlapping [windowStart, windowEnd]: the
// most recent occurrence at or before windowStart, then each subsequent
// one through windowEnd.
func recurrenceAnchors(start time.Time, period time.Duration, windowStart, windowEnd time.Time) []time.Time {
	if !start.Before(windowStart) {
		// startSchedule itself is in or after the window; walk forward
		// from it (it may still be the only or first occurrence).
		var anchors []time.Time
		for t := start; !t.After(windowEnd); t = t.Add(period) {
			if !t.Before(windowStart) || len(anchors) == 0 {
				anchors = append(anchors, t)
			}
		}
		if len(anchors) == 0 {
			anchors = append(anchors, start)
		}
		return anchors
	}

	elapsed := windowStart.Sub(start)
	n := int64(elapsed / period)
	anchor := start.Add(time.Duration(n) * period)
	if anchor.After(windowStart) {
		anchor = anchor.Add(-period)
	}

	var anchors []time.Time
	for t := anchor; !t.After(windowEnd); t = t.Add(period) {
		anchors = append(anchors, t)
	}
	return anchors
}

func expandAnchored(rec *installed, anchor time.Time, sched v16.ChargingSchedule, windowStart, windowEnd time.Time, nextAnchor *time.Time) []entry {
	periods := sched.ChargingSchedulePeriod
	if len(periods) == 0 {
		return nil
	}

	scheduleEnd := windowEnd
	if sched.Duration != nil {
		scheduleEnd = anchor.Add(time.Duration(*sched.Duration) * time.Second)
	} else if nextAnchor != nil {
		scheduleEnd = *nextAnchor
	}

	var out []entry
	for i, per := range periods {
		start := anchor.Add(time.Duration(per.StartPeriod) * time.Second)
		var end time.Time
		if i+1 < len(periods) {
			end = anchor.Add(time.Duration(periods[i+1].StartPeriod) * time.Second)
		} else {
			end = scheduleEnd
		}

		s, e := start, end
		if s.Before(windowStart) {
			s = windowStart
		}
		if e.After(windowEnd) {
			e = windowEnd
		}
		if !s.Before(e) {
			continue
		}

		limit := per.Limit
		out = append(out, entry{
			start:        s,
			end:          e,
			limit:        limit,
			numberPhases: per.NumberPhases,
			unit:         sched.ChargingRateUnit,
			stackLevel:   rec.profile.StackLevel,
			installedAt:  rec.installedAt,
			purpose:      rec.profile.ChargingProfilePurpose,
		})
	}
	return out
}

// winner picks the entry covering instant t: any TxProfile entry beats any
// other entry; among entries of the same kind the highest stackLevel wins,
// ties broken by newest installedAt.
func winner(entries []entry, t time.Time) (entry, bool) {
	var best entry
	found := false
	for _, e := range entries {
		if t.Before(e.start) || !t.Before(e.end) {
			continue
		}
		eTx := e.purpose == v16.ChargingProfilePurposeTxProfile
		bestTx := best.purpose == v16.ChargingProfilePurposeTxProfile
		if !found || (eTx && !bestTx) ||
			(eTx == bestTx && (e.stackLevel > best.stackLevel ||
				(e.stackLevel == best.stackLevel && e.installedAt.After(best.installedAt)))) {
			best = e
			found = true
		}
	}
	return best, found
}

// EnhancedChargingSchedulePeriod is one constant-limit segment of a
// computed composite schedule.
type EnhancedChargingSchedulePeriod struct {
	StartPeriod       int
	Limit             float64
	NumberPhases      *int
	StackLevel        int
	PeriodTransformed bool
}

// EnhancedChargingSchedule is the result of ComputeComposite.
type EnhancedChargingSchedule struct {
	ChargingRateUnit v16.ChargingRateUnit
	StartSchedule    time.Time
	Duration         time.Duration
	Periods          []EnhancedChargingSchedulePeriod
}

// Engine ties a Store to a clock, computing composite schedules on demand.
type Engine struct {
	Store *Store
}

func NewEngine(store *Store) *Engine {
	return &Engine{Store: store}
}

// ComputeComposite builds the composite schedule for connectorID over
// [now, now+duration]. For connectorID==0 only the ChargePointMaxProfile
// tier participates; otherwise all three tiers restricted to that
// connector are combined under CPM's clamp.
func (e *Engine) ComputeComposite(connectorID int, now time.Time, duration time.Duration, unit v16.ChargingRateUnit) (EnhancedChargingSchedule, error) {
	if unit == "" {
		unit = v16.ChargingRateUnitA
	}
	end := now.Add(duration)
	snap := e.Store.snapshotFor(connectorID)

	var sessionStart *time.Time
	if e.Store.ActiveSessionStart != nil {
		if st, ok := e.Store.ActiveSessionStart(connectorID); ok {
			sessionStart = &st
		}
	}

	var cpmEntries []entry
	for _, rec := range snap.cpm {
		cpmEntries = append(cpmEntries, expandProfile(rec, now, end, sessionStart)...)
	}

	if connectorID == 0 {
		return e.assemble(cpmEntries, nil, now, end, unit), nil
	}

	var lowerEntries []entry
	for _, rec := range snap.txProfile {
		lowerEntries = append(lowerEntries, expandProfile(rec, now, end, sessionStart)...)
	}
	for _, rec := range snap.txDefault {
		lowerEntries = append(lowerEntries, expandProfile(rec, now, end, sessionStart)...)
	}

	return e.assemble(cpmEntries, lowerEntries, now, end, unit), nil
}

// assemble walks the breakpoint timeline, resolving the winning lower-tier
// entry (any TxProfile entry beats any TxDefaultProfile entry; see winner)
// clamped by the minimum active CPM limit, then fills gaps with the
// DeviceModel default and coalesces adjacent identical periods.
func (e *Engine) assemble(cpmEntries, lowerEntries []entry, now, end time.Time, unit v16.ChargingRateUnit) EnhancedChargingSchedule {
	breakpoints := map[time.Time]struct{}{now: {}, end: {}}
	for _, e := range append(append([]entry{}, cpmEntries...), lowerEntries...) {
		if !e.start.Before(now) && !e.start.After(end) {
			breakpoints[e.start] = struct{}{}
		}
		if !e.end.Before(now) && !e.end.After(end) {
			breakpoints[e.end] = struct{}{}
		}
	}
	times := make([]time.Time, 0, len(breakpoints))
	for t := range breakpoints {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	var raw []EnhancedChargingSchedulePeriod
	var rawStarts []time.Time

	for i := 0; i+1 < len(times); i++ {
		mid := times[i].Add(times[i+1].Sub(times[i]) / 2)

		limit := e.defaultLimit(unit)
		numberPhases := e.Store.DefaultNumberPhases
		stackLevel := -1
		transformed := false
		limitUnit := unit
		hasLowerTier := false

		if low, ok := winner(lowerEntries, mid); ok {
			limit = low.limit
			limitUnit = low.unit
			numberPhases = phasesOrDefault(low.numberPhases, e.Store.DefaultNumberPhases)
			stackLevel = low.stackLevel
			hasLowerTier = true
		}

		if cpm, ok := minCPM(cpmEntries, mid, limitUnit, numberPhases, hasLowerTier, e.Store.SupplyVoltage); ok {
			if cpm < limit {
				limit = cpm
				transformed = true
			}
		}

		if limitUnit != unit {
			limit = convert(limit, limitUnit, unit, numberPhases, e.Store.SupplyVoltage)
			transformed = true
		}

		raw = append(raw, EnhancedChargingSchedulePeriod{
			Limit:             limit,
			NumberPhases:      &numberPhases,
			StackLevel:        stackLevel,
			PeriodTransformed: transformed,
		})
		rawStarts = append(rawStarts, times[i])
	}

	periods := coalesce(raw, rawStarts, now)
	return EnhancedChargingSchedule{
		ChargingRateUnit: unit,
		StartSchedule:    now,
		Duration:         end.Sub(now),
		Periods:          periods,
	}
}

// minCPM returns the minimum active ChargePointMaxProfile limit covering t,
// converted into targetUnit, if any CPM entry is active. The conversion uses
// the governing lower-tier numberPhases whenever one applies (hasLowerTier),
// since CPM is a clamp on that tier's schedule and must be read in its
// phase count; only when there is no lower tier (connectorId 0) does a CPM
// entry's own numberPhases apply, falling back to numberPhases (the
// DeviceModel default) if that too is unset.
func minCPM(cpmEntries []entry, t time.Time, targetUnit v16.ChargingRateUnit, numberPhases int, hasLowerTier bool, supplyVoltage float64) (float64, bool) {
	var min float64
	found := false
	for _, ce := range cpmEntries {
		if t.Before(ce.start) || !t.Before(ce.end) {
			continue
		}
		phases := numberPhases
		if !hasLowerTier {
			phases = phasesOrDefault(ce.numberPhases, numberPhases)
		}
		v := convert(ce.limit, ce.unit, targetUnit, phases, supplyVoltage)
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}

func (e *Engine) defaultLimit(unit v16.ChargingRateUnit) float64 {
	if unit == v16.ChargingRateUnitW {
		return e.Store.DefaultLimitWatts
	}
	return e.Store.DefaultLimitAmps
}

func coalesce(periods []EnhancedChargingSchedulePeriod, starts []time.Time, now time.Time) []EnhancedChargingSchedulePeriod {
	var out []EnhancedChargingSchedulePeriod
	for i, p := range periods {
		startPeriod := int(starts[i].Sub(now).Seconds())
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Limit == p.Limit && phasesEqual(last.NumberPhases, p.NumberPhases) {
				continue
			}
		}
		p.StartPeriod = startPeriod
		out = append(out, p)
	}
	return out
}

func phasesEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ToChargingSchedule converts the internal representation into the wire
// ChargingSchedule DTO used by GetCompositeScheduleResponse.
func (s EnhancedChargingSchedule) ToChargingSchedule() v16.ChargingSchedule {
	durationSeconds := int(s.Duration.Seconds())
	periods := make([]v16.ChargingSchedulePeriod, 0, len(s.Periods))
	for _, p := range s.Periods {
		periods = append(periods, v16.ChargingSchedulePeriod{
			StartPeriod:  p.StartPeriod,
			Limit:        p.Limit,
			NumberPhases: p.NumberPhases,
		})
	}
	start := v16.DateTime{Time: s.StartSchedule}
	return v16.ChargingSchedule{
		Duration:               &durationSeconds,
		StartSchedule:          &start,
		ChargingRateUnit:       s.ChargingRateUnit,
		ChargingSchedulePeriod: periods,
	}
}
