// Package devicemodel implements the charge point's typed configuration
// registry: the set of (section, key) entries a CSMS can read with
// GetConfiguration and write with ChangeConfiguration.
//
// The locking and mutability-gated Set pattern is grounded on
// internal/ocpp/v201/devicemodel.go's Component/Variable store, generalized
// from 2.0.1's nested component model down to 1.6's flat key catalogue.
package devicemodel

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mutability controls whether a key accepts ChangeConfiguration writes and
// whether its value is ever returned by GetConfiguration.
type Mutability string

const (
	ReadOnly  Mutability = "ReadOnly"
	ReadWrite Mutability = "ReadWrite"
	WriteOnly Mutability = "WriteOnly"
)

// Section groups keys for SupportedFeatureProfiles filtering.
type Section string

const (
	SectionCore                  Section = "Core"
	SectionFirmwareManagement    Section = "FirmwareManagement"
	SectionLocalAuthListManagement Section = "LocalAuthListManagement"
	SectionReservation           Section = "Reservation"
	SectionSmartCharging         Section = "SmartCharging"
	SectionSecurity              Section = "Security"
	SectionPnC                   Section = "PnC"
	SectionCostAndPrice          Section = "CostAndPrice"
	SectionInternal              Section = "Internal"
	SectionCustom                Section = "Custom"
)

// ValueType is the catalogued scalar kind of an entry's value.
type ValueType string

const (
	TypeInteger ValueType = "integer"
	TypeBoolean ValueType = "boolean"
	TypeString  ValueType = "string"
	TypeCSL     ValueType = "csl" // comma-separated list, enum-validated per element
	TypeJSON    ValueType = "json"
)

// SetResult mirrors the spec's ChangeConfiguration status outcomes.
type SetResult string

const (
	SetAccepted       SetResult = "Accepted"
	SetRejected       SetResult = "Rejected"       // format error
	SetNotSupported   SetResult = "NotSupported"   // absent key
	SetRebootRequired SetResult = "RebootRequired" // value changed, needs reboot
)

// Validator checks a raw string value against a key's validation policy and
// returns a normalized value to store, or an error if the format is invalid.
type Validator func(raw string, existing *entry) (normalized string, err error)

// entry is one catalogued or custom device-model key.
type entry struct {
	key            string
	section        Section
	valueType      ValueType
	mutability     Mutability
	value          string
	valueList      []string // allowed CSL members, or enum choices
	rebootRequired bool // changing this value requires a reboot to take effect
	hotKey         bool // change fires an immediate notification, no reboot needed
	validate       Validator
	custom         bool
}

// Model is the charge point's device model: the complete catalogue of
// built-in keys plus any dynamically registered custom keys.
type Model struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger

	// SupportedFeatureProfiles gates which sections GetAllForReport returns.
	supportedProfiles map[Section]bool

	// OnHotKeyChanged fires synchronously after a hot key's value is
	// accepted, carrying the key name and new value.
	OnHotKeyChanged func(key, value string)
}

// New builds a Model seeded with the compile-time catalogue and the given
// SupportedFeatureProfiles (as section names, e.g. "Core", "SmartCharging").
func New(logger *slog.Logger, supportedProfiles []string) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		entries:           make(map[string]*entry),
		logger:            logger,
		supportedProfiles: make(map[Section]bool),
	}
	for _, p := range supportedProfiles {
		m.supportedProfiles[Section(p)] = true
	}
	for _, c := range catalogue {
		e := c
		m.entries[e.key] = &e
	}
	return m
}

// Get returns a key's current value. WriteOnly keys return the sentinel
// "****" instead of their real value, matching AuthorizationKey's behavior.
func (m *Model) Get(key string) (value string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if e.mutability == WriteOnly {
		return "****", true
	}
	return e.value, true
}

// GetInt is a typed accessor for integer keys.
func (m *Model) GetInt(key string) (int, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// GetBool is a typed accessor for boolean keys.
func (m *Model) GetBool(key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	return v == "true", true
}

// Set applies a ChangeConfiguration write. It returns Rejected for a format
// violation, NotSupported if the key does not exist, RebootRequired if the
// key is in the reboot-required catalogue subset and the value actually
// changed, and Accepted otherwise (including hot keys, which additionally
// fire OnHotKeyChanged).
func (m *Model) Set(key, rawValue string) SetResult {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return SetNotSupported
	}
	if e.mutability == ReadOnly {
		m.mu.Unlock()
		return SetRejected
	}
	normalized := rawValue
	if e.validate != nil {
		n, err := e.validate(rawValue, e)
		if err != nil {
			m.mu.Unlock()
			m.logger.Warn("configuration value rejected", "key", key, "error", err)
			return SetRejected
		}
		normalized = n
	}
	changed := e.value != normalized
	e.value = normalized
	hot := e.hotKey
	reboot := e.rebootRequired
	cb := m.OnHotKeyChanged
	m.mu.Unlock()

	if changed && hot && cb != nil {
		cb(key, normalized)
	}
	if changed && reboot {
		return SetRebootRequired
	}
	return SetAccepted
}

// Seed overwrites an existing catalogue entry's raw value directly,
// bypassing the ReadOnly/validate checks Set enforces. Meant for the
// orchestrator's one-time startup seeding of identity keys (ChargePointId,
// ChargePointVendor, ChargePointModel, NumberOfConnectors), never for
// CSMS-driven configuration changes.
func (m *Model) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.value = value
	}
}

// SetCustom registers or overwrites a dynamic custom key outside the
// compile-time catalogue, under SectionCustom.
func (m *Model) SetCustom(key, value string, mutability Mutability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry{
		key:        key,
		section:    SectionCustom,
		valueType:  TypeString,
		mutability: mutability,
		value:      value,
		custom:     true,
	}
}

// ReportEntry is a snapshot row returned by GetAllForReport.
type ReportEntry struct {
	Key        string
	Value      string
	Mutability Mutability
	Section    Section
}

// GetAllForReport returns every key whose section is in
// SupportedFeatureProfiles (Internal and Custom are always included).
// WriteOnly keys appear with their sentinel value, same as Get.
func (m *Model) GetAllForReport() []ReportEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ReportEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if !m.sectionVisible(e.section) {
			continue
		}
		v := e.value
		if e.mutability == WriteOnly {
			v = "****"
		}
		out = append(out, ReportEntry{Key: e.key, Value: v, Mutability: e.mutability, Section: e.section})
	}
	return out
}

// SupportsProfile reports whether profile (e.g. "SmartCharging",
// "Reservation") is present in SupportedFeatureProfiles. Used by
// internal/dispatch to gate actions whose feature profile is disabled.
func (m *Model) SupportsProfile(profile string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sectionVisible(Section(profile))
}

func (m *Model) sectionVisible(s Section) bool {
	if s == SectionInternal || s == SectionCustom {
		return true
	}
	if len(m.supportedProfiles) == 0 {
		return true
	}
	return m.supportedProfiles[s]
}
