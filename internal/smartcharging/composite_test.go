package smartcharging

import (
	"testing"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

func intp(i int) *int { return &i }

func dt(s string) *v16.DateTime {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &v16.DateTime{Time: t}
}

func newTestStore() *Store {
	return NewStore(12, 32, 33120, 3, 230)
}

func TestScenarioOneCompositeClampedByCPM(t *testing.T) {
	store := newTestStore()
	start := dt("2024-01-01T13:00:00Z")

	cpm := v16.ChargingProfile{
		ChargingProfileId:      1,
		StackLevel:             0,
		ChargingProfilePurpose: v16.ChargingProfilePurposeChargePointMaxProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			Duration:         intp(200),
			StartSchedule:    start,
			ChargingRateUnit: v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: 10, NumberPhases: intp(3)},
				{StartPeriod: 80, Limit: 20, NumberPhases: intp(1)},
				{StartPeriod: 100, Limit: 20, NumberPhases: intp(3)},
			},
		},
	}
	if _, err := store.Set(0, cpm); err != nil {
		t.Fatalf("unexpected error installing CPM profile: %v", err)
	}

	txDefault := v16.ChargingProfile{
		ChargingProfileId:      2,
		StackLevel:             12,
		ChargingProfilePurpose: v16.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			Duration:         intp(300),
			StartSchedule:    start,
			ChargingRateUnit: v16.ChargingRateUnitW,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: 11000, NumberPhases: intp(3)},
				{StartPeriod: 60, Limit: 6900, NumberPhases: intp(1)},
				{StartPeriod: 120, Limit: 5520},
				{StartPeriod: 180, Limit: 17250},
				{StartPeriod: 260, Limit: 5520},
			},
		},
	}
	if _, err := store.Set(1, txDefault); err != nil {
		t.Fatalf("unexpected error installing TxDefault profile: %v", err)
	}

	engine := NewEngine(store)
	sched, err := engine.ComputeComposite(1, start.Time, 400*time.Second, v16.ChargingRateUnitW)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type want struct {
		startPeriod int
		limit       float64
		phases      int
		transformed bool
	}
	expected := []want{
		{0, 6900, 3, true},
		{60, 2300, 1, true},
		{80, 4600, 1, true},
		{120, 5520, 3, false},
		{180, 13800, 3, true},
		{200, 17250, 3, false},
		{260, 5520, 3, false},
		{300, 33120, 3, false},
	}

	if len(sched.Periods) != len(expected) {
		t.Fatalf("expected %d periods, got %d: %+v", len(expected), len(sched.Periods), sched.Periods)
	}
	for i, w := range expected {
		p := sched.Periods[i]
		if p.StartPeriod != w.startPeriod {
			t.Errorf("period %d: expected start %d, got %d", i, w.startPeriod, p.StartPeriod)
		}
		if p.Limit != w.limit {
			t.Errorf("period %d: expected limit %v, got %v", i, w.limit, p.Limit)
		}
		if p.NumberPhases == nil || *p.NumberPhases != w.phases {
			t.Errorf("period %d: expected numberPhases %v, got %v", i, w.phases, p.NumberPhases)
		}
		if p.PeriodTransformed != w.transformed {
			t.Errorf("period %d: expected transformed=%v, got %v", i, w.transformed, p.PeriodTransformed)
		}
	}
}

func TestCompositeHasNoGapsOverWindow(t *testing.T) {
	store := newTestStore()
	engine := NewEngine(store)
	now := time.Now()
	sched, err := engine.ComputeComposite(1, now, 100*time.Second, v16.ChargingRateUnitA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.Periods) == 0 {
		t.Fatal("expected the default baseline to fill the whole window")
	}
	if sched.Periods[0].Limit != store.DefaultLimitAmps {
		t.Fatalf("expected default limit fill, got %v", sched.Periods[0].Limit)
	}
}

func TestChargePointMaxProfileRejectsRelativeKind(t *testing.T) {
	store := newTestStore()
	p := v16.ChargingProfile{
		ChargingProfileId:      3,
		StackLevel:             0,
		ChargingProfilePurpose: v16.ChargingProfilePurposeChargePointMaxProfile,
		ChargingProfileKind:    v16.ChargingProfileKindRelative,
		ChargingSchedule: v16.ChargingSchedule{
			ChargingRateUnit:       v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 10}},
		},
	}
	if _, err := store.Set(0, p); err == nil {
		t.Fatal("expected Relative ChargePointMaxProfile to be rejected")
	}
}

func TestChargePointMaxProfileMustAttachToConnectorZero(t *testing.T) {
	store := newTestStore()
	p := v16.ChargingProfile{
		ChargingProfileId:      4,
		StackLevel:             0,
		ChargingProfilePurpose: v16.ChargingProfilePurposeChargePointMaxProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			StartSchedule:          dt("2024-01-01T00:00:00Z"),
			ChargingRateUnit:       v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 10}},
		},
	}
	if _, err := store.Set(1, p); err == nil {
		t.Fatal("expected ChargePointMaxProfile on connector 1 to be rejected")
	}
}

func TestSpecificConnectorTxDefaultWinsOverConnectorZeroFallback(t *testing.T) {
	store := newTestStore()
	start := dt("2024-01-01T00:00:00Z")
	fallback := v16.ChargingProfile{
		ChargingProfileId:      5,
		StackLevel:             1,
		ChargingProfilePurpose: v16.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			StartSchedule:          start,
			ChargingRateUnit:       v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 16}},
		},
	}
	specific := v16.ChargingProfile{
		ChargingProfileId:      6,
		StackLevel:             1,
		ChargingProfilePurpose: v16.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			StartSchedule:          start,
			ChargingRateUnit:       v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 6}},
		},
	}
	if _, err := store.Set(0, fallback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Set(2, specific); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine := NewEngine(store)
	sched, err := engine.ComputeComposite(2, start.Time, 60*time.Second, v16.ChargingRateUnitA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.Periods[0].Limit != 6 {
		t.Fatalf("expected specific-connector override (6A) to win, got %v", sched.Periods[0].Limit)
	}
}

func TestClearChargingProfileByID(t *testing.T) {
	store := newTestStore()
	p := v16.ChargingProfile{
		ChargingProfileId:      9,
		StackLevel:             0,
		ChargingProfilePurpose: v16.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    v16.ChargingProfileKindAbsolute,
		ChargingSchedule: v16.ChargingSchedule{
			StartSchedule:          dt("2024-01-01T00:00:00Z"),
			ChargingRateUnit:       v16.ChargingRateUnitA,
			ChargingSchedulePeriod: []v16.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 10}},
		},
	}
	if _, err := store.Set(1, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := 9
	if removed := store.Clear(ClearFilter{ID: &id}); !removed {
		t.Fatal("expected the profile to be removed")
	}
	if removed := store.Clear(ClearFilter{ID: &id}); removed {
		t.Fatal("expected a second clear to find nothing")
	}
}
