package v16

// Smart Charging Profile message payloads.

// ChargingSchedulePeriod describes one constant-limit segment of a schedule,
// starting startPeriod seconds after the schedule's effective start.
type ChargingSchedulePeriod struct {
	StartPeriod  int      `json:"startPeriod" validate:"gte=0"`
	Limit        float64  `json:"limit"`
	NumberPhases *int     `json:"numberPhases,omitempty" validate:"omitempty,min=1,max=3"`
}

// ChargingSchedule is a series of charging limit periods, optionally bounded
// in time and anchored per the owning ChargingProfile's kind.
type ChargingSchedule struct {
	Duration           *int                     `json:"duration,omitempty"`
	StartSchedule      *DateTime                `json:"startSchedule,omitempty"`
	ChargingRateUnit   ChargingRateUnit         `json:"chargingRateUnit" validate:"required"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod" validate:"required,min=1"`
	MinChargingRate    *float64                 `json:"minChargingRate,omitempty"`
}

// ChargingProfile is the top-level smart-charging object installed via
// SetChargingProfile or carried in RemoteStartTransaction.
type ChargingProfile struct {
	ChargingProfileId      int                     `json:"chargingProfileId"`
	TransactionId          *int                    `json:"transactionId,omitempty"`
	StackLevel             int                     `json:"stackLevel" validate:"gte=0"`
	ChargingProfilePurpose ChargingProfilePurpose  `json:"chargingProfilePurpose" validate:"required"`
	ChargingProfileKind    ChargingProfileKindType `json:"chargingProfileKind" validate:"required"`
	RecurrencyKind         RecurrencyKind          `json:"recurrencyKind,omitempty"`
	ValidFrom              *DateTime               `json:"validFrom,omitempty"`
	ValidTo                *DateTime               `json:"validTo,omitempty"`
	ChargingSchedule       ChargingSchedule        `json:"chargingSchedule" validate:"required"`
}

// =========== SetChargingProfile ===========

type SetChargingProfileRequest struct {
	ConnectorId     int             `json:"connectorId" validate:"gte=0"`
	CsChargingProfiles ChargingProfile `json:"csChargingProfiles" validate:"required"`
}

type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status"`
}

// =========== ClearChargingProfile ===========

type ClearChargingProfileRequest struct {
	Id              *int                   `json:"id,omitempty"`
	ConnectorId     *int                   `json:"connectorId,omitempty"`
	ChargingProfilePurpose ChargingProfilePurpose `json:"chargingProfilePurpose,omitempty"`
	StackLevel      *int                   `json:"stackLevel,omitempty"`
}

type ClearChargingProfileResponse struct {
	Status ClearChargingProfileStatus `json:"status"`
}

// =========== GetCompositeSchedule ===========

type GetCompositeScheduleRequest struct {
	ConnectorId      int              `json:"connectorId" validate:"gte=0"`
	Duration         int              `json:"duration" validate:"required"`
	ChargingRateUnit ChargingRateUnit `json:"chargingRateUnit,omitempty"`
}

type GetCompositeScheduleResponse struct {
	Status           GetCompositeScheduleStatus `json:"status"`
	ConnectorId      *int                       `json:"connectorId,omitempty"`
	ScheduleStart    *DateTime                  `json:"scheduleStart,omitempty"`
	ChargingSchedule *ChargingSchedule          `json:"chargingSchedule,omitempty"`
}

// =========== ReserveNow / CancelReservation ===========

type ReserveNowRequest struct {
	ConnectorId   int      `json:"connectorId" validate:"gte=0"`
	ExpiryDate    DateTime `json:"expiryDate" validate:"required"`
	IdTag         string   `json:"idTag" validate:"required,max=20"`
	ParentIdTag   string   `json:"parentIdTag,omitempty" validate:"max=20"`
	ReservationId int      `json:"reservationId"`
}

type ReserveNowResponse struct {
	Status ReservationStatus `json:"status"`
}

type CancelReservationRequest struct {
	ReservationId int `json:"reservationId"`
}

type CancelReservationResponse struct {
	Status CancelReservationStatus `json:"status"`
}
