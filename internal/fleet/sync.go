package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
	"github.com/ruslanhut/ocpp-cp-core/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
)

// Persistence groups the repositories a Manager periodically snapshots
// local chargepoint state into: the AuthorizationCache, the
// LocalAuthorizationList, the device model and the installed charging
// profiles. None of this is produced by wire traffic the message logger
// already captures, so it needs its own sync loop, the way the teacher's
// Manager.syncState periodically wrote station state to MongoDB.
type Persistence struct {
	AuthCache        *storage.AuthorizationCacheRepository
	LocalAuthList    *storage.LocalAuthListRepository
	DeviceModel      *storage.DeviceModelRepository
	ChargingProfiles *storage.ChargingProfileRepository
	SyncInterval     time.Duration
}

// EnablePersistence wires p into the Manager; StartSync won't do anything
// until this has been called.
func (m *Manager) EnablePersistence(p Persistence) {
	if p.SyncInterval <= 0 {
		p.SyncInterval = 30 * time.Second
	}
	m.mu.Lock()
	m.persistence = &p
	m.mu.Unlock()
}

// StartSync runs a periodic snapshot of every instance's local state until
// ctx is cancelled or Shutdown is called, performing one final sync before
// returning either way.
func (m *Manager) StartSync(ctx context.Context) {
	m.mu.Lock()
	p := m.persistence
	if p == nil {
		m.mu.Unlock()
		return
	}
	syncCtx, cancel := context.WithCancel(ctx)
	m.syncCancel = cancel
	m.mu.Unlock()

	m.syncWg.Add(1)
	go func() {
		defer m.syncWg.Done()
		ticker := time.NewTicker(p.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-syncCtx.Done():
				m.syncState(context.Background())
				return
			case <-ticker.C:
				m.syncState(syncCtx)
			}
		}
	}()
}

func (m *Manager) syncState(ctx context.Context) {
	m.mu.RLock()
	p := m.persistence
	instances := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()
	if p == nil {
		return
	}

	for _, inst := range instances {
		m.syncInstance(ctx, p, inst)
	}
}

func (m *Manager) syncInstance(ctx context.Context, p *Persistence, inst *instance) {
	cache, list, listVersion := inst.cp.LocalAuth.Snapshot()

	if p.AuthCache != nil {
		entries := make([]storage.AuthorizationCacheEntry, 0, len(cache))
		for _, e := range cache {
			entry := storage.AuthorizationCacheEntry{
				StationID:   inst.stationID,
				IdTag:       e.IdTag,
				Status:      string(e.Info.Status),
				ParentIdTag: e.Info.ParentIdTag,
				Expires:     e.Expires,
			}
			if e.Info.ExpiryDate != nil {
				entry.ExpiryDate = e.Info.ExpiryDate.Time
			}
			entries = append(entries, entry)
		}
		if err := p.AuthCache.ReplaceAll(ctx, inst.stationID, entries); err != nil {
			m.logger.Error("failed to sync authorization cache", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
		}
	}

	if p.LocalAuthList != nil {
		entries := make([]storage.LocalAuthListEntry, 0, len(list))
		for idTag, info := range list {
			entry := storage.LocalAuthListEntry{
				StationID:   inst.stationID,
				IdTag:       idTag,
				Status:      string(info.Status),
				ParentIdTag: info.ParentIdTag,
				ListVersion: listVersion,
			}
			if info.ExpiryDate != nil {
				entry.ExpiryDate = info.ExpiryDate.Time
			}
			entries = append(entries, entry)
		}
		if err := p.LocalAuthList.ReplaceAll(ctx, inst.stationID, entries); err != nil {
			m.logger.Error("failed to sync local auth list", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
		}
	}

	if p.DeviceModel != nil {
		report := inst.cp.DeviceModel.GetAllForReport()
		vars := make([]storage.DeviceModelVariable, 0, len(report))
		for _, r := range report {
			vars = append(vars, storage.DeviceModelVariable{
				StationID: inst.stationID,
				Key:       r.Key,
				Value:     r.Value,
			})
		}
		if err := p.DeviceModel.ReplaceAll(ctx, inst.stationID, vars); err != nil {
			m.logger.Error("failed to sync device model", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
		}
	}

	if p.ChargingProfiles != nil && inst.cp.SmartChargingStore != nil {
		installed := inst.cp.SmartChargingStore.AllInstalled()
		records := make([]storage.ChargingProfileRecord, 0, len(installed))
		for _, ip := range installed {
			if ip.Profile.ChargingProfilePurpose == v16.ChargingProfilePurposeTxProfile {
				continue // TxProfiles live only as long as their transaction
			}
			raw, err := bson.Marshal(ip.Profile)
			if err != nil {
				m.logger.Error("failed to marshal charging profile", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
				continue
			}
			var doc bson.M
			if err := bson.Unmarshal(raw, &doc); err != nil {
				m.logger.Error("failed to decode charging profile", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
				continue
			}
			records = append(records, storage.ChargingProfileRecord{
				StationID:         inst.stationID,
				ChargingProfileID: ip.Profile.ChargingProfileId,
				ConnectorID:       ip.ConnectorID,
				Purpose:           string(ip.Profile.ChargingProfilePurpose),
				StackLevel:        ip.Profile.StackLevel,
				Profile:           doc,
				InstalledAt:       ip.InstalledAt,
			})
		}
		if err := p.ChargingProfiles.ReplaceAll(ctx, inst.stationID, records); err != nil {
			m.logger.Error("failed to sync charging profiles", slog.String("stationId", inst.stationID), slog.String("error", err.Error()))
		}
	}
}
