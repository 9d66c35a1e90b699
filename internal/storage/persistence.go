package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuthorizationCacheEntry is one AuthorizationCache row: an idTag's last
// known IdTagInfo plus its expiry, as stored by internal/chargepoint's
// LocalAuth and restored across restarts.
type AuthorizationCacheEntry struct {
	StationID   string    `bson:"station_id"`
	IdTag       string    `bson:"id_tag"`
	Status      string    `bson:"status"`
	ParentIdTag string    `bson:"parent_id_tag,omitempty"`
	ExpiryDate  time.Time `bson:"expiry_date,omitempty"`
	Expires     time.Time `bson:"expires_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// LocalAuthListEntry is one row of the LocalAuthorizationList, tagged with
// the listVersion it was installed under.
type LocalAuthListEntry struct {
	StationID   string    `bson:"station_id"`
	IdTag       string    `bson:"id_tag"`
	Status      string    `bson:"status"`
	ParentIdTag string    `bson:"parent_id_tag,omitempty"`
	ExpiryDate  time.Time `bson:"expiry_date,omitempty"`
	ListVersion int       `bson:"list_version"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// DeviceModelVariable is one devicemodel.Model entry, snapshotted for
// restoring configuration across restarts.
type DeviceModelVariable struct {
	StationID string    `bson:"station_id"`
	Key       string    `bson:"key"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ChargingProfileRecord is one installed smartcharging profile; a station
// holds at most one per (purpose, connectorId, stackLevel).
type ChargingProfileRecord struct {
	StationID         string    `bson:"station_id"`
	ChargingProfileID int       `bson:"charging_profile_id"`
	ConnectorID       int       `bson:"connector_id"`
	Purpose           string    `bson:"purpose"`
	StackLevel        int       `bson:"stack_level"`
	Profile           bson.M    `bson:"profile"`
	InstalledAt       time.Time `bson:"installed_at"`
}

// MeterValueRepository records MeterValues.req samples into the
// time-series MeterValuesCollection, one document per SampledValue.
type MeterValueRepository struct {
	collection *mongo.Collection
}

func NewMeterValueRepository(db *MongoDBClient) *MeterValueRepository {
	return &MeterValueRepository{collection: db.MeterValuesCollection}
}

// Record inserts one document per sample in values, tagged with stationID/
// connectorID/transactionID/measurand for later querying by GetMessageStats-
// style analytics.
func (r *MeterValueRepository) Record(ctx context.Context, stationID string, connectorID, transactionID int, values []MeterValue) error {
	if len(values) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(values))
	for _, v := range values {
		v.Metadata.StationID = stationID
		v.Metadata.ConnectorID = connectorID
		v.Metadata.TransactionID = transactionID
		docs = append(docs, v)
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to record meter values: %w", err)
	}
	return nil
}

// AuthorizationCacheRepository persists internal/chargepoint's
// AuthorizationCache, the way TransactionRepository persists transactions.
type AuthorizationCacheRepository struct {
	collection *mongo.Collection
}

func NewAuthorizationCacheRepository(db *MongoDBClient) *AuthorizationCacheRepository {
	return &AuthorizationCacheRepository{collection: db.AuthorizationCacheCollection}
}

// Upsert replaces the cached entry for (stationID, idTag).
func (r *AuthorizationCacheRepository) Upsert(ctx context.Context, entry AuthorizationCacheEntry) error {
	entry.UpdatedAt = time.Now()
	filter := bson.M{"station_id": entry.StationID, "id_tag": entry.IdTag}
	_, err := r.collection.ReplaceOne(ctx, filter, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert authorization cache entry: %w", err)
	}
	return nil
}

// ReplaceAll overwrites the full cache for stationID with entries, for a
// periodic snapshot sync rather than per-entry writes.
func (r *AuthorizationCacheRepository) ReplaceAll(ctx context.Context, stationID string, entries []AuthorizationCacheEntry) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"station_id": stationID}); err != nil {
		return fmt.Errorf("failed to clear authorization cache: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		e.UpdatedAt = time.Now()
		docs[i] = e
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write authorization cache: %w", err)
	}
	return nil
}

// GetAll loads every cached entry for stationID, for restoring LocalAuth
// at startup.
func (r *AuthorizationCacheRepository) GetAll(ctx context.Context, stationID string) ([]AuthorizationCacheEntry, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"station_id": stationID})
	if err != nil {
		return nil, fmt.Errorf("failed to query authorization cache: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []AuthorizationCacheEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode authorization cache: %w", err)
	}
	return entries, nil
}

// LocalAuthListRepository persists the LocalAuthorizationList.
type LocalAuthListRepository struct {
	collection *mongo.Collection
}

func NewLocalAuthListRepository(db *MongoDBClient) *LocalAuthListRepository {
	return &LocalAuthListRepository{collection: db.LocalAuthListCollection}
}

// ReplaceAll overwrites stationID's list with entries, matching
// SendLocalList's Full-update semantics.
func (r *LocalAuthListRepository) ReplaceAll(ctx context.Context, stationID string, entries []LocalAuthListEntry) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"station_id": stationID}); err != nil {
		return fmt.Errorf("failed to clear local auth list: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		e.UpdatedAt = time.Now()
		docs[i] = e
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write local auth list: %w", err)
	}
	return nil
}

// GetAll loads stationID's local authorization list.
func (r *LocalAuthListRepository) GetAll(ctx context.Context, stationID string) ([]LocalAuthListEntry, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"station_id": stationID})
	if err != nil {
		return nil, fmt.Errorf("failed to query local auth list: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []LocalAuthListEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode local auth list: %w", err)
	}
	return entries, nil
}

// DeviceModelRepository persists a devicemodel.Model snapshot.
type DeviceModelRepository struct {
	collection *mongo.Collection
}

func NewDeviceModelRepository(db *MongoDBClient) *DeviceModelRepository {
	return &DeviceModelRepository{collection: db.DeviceModelCollection}
}

// ReplaceAll overwrites stationID's device model snapshot with vars.
func (r *DeviceModelRepository) ReplaceAll(ctx context.Context, stationID string, vars []DeviceModelVariable) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"station_id": stationID}); err != nil {
		return fmt.Errorf("failed to clear device model snapshot: %w", err)
	}
	if len(vars) == 0 {
		return nil
	}
	docs := make([]interface{}, len(vars))
	for i, v := range vars {
		v.UpdatedAt = time.Now()
		docs[i] = v
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write device model snapshot: %w", err)
	}
	return nil
}

// GetAll loads stationID's device model snapshot.
func (r *DeviceModelRepository) GetAll(ctx context.Context, stationID string) ([]DeviceModelVariable, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"station_id": stationID})
	if err != nil {
		return nil, fmt.Errorf("failed to query device model snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	var vars []DeviceModelVariable
	if err := cursor.All(ctx, &vars); err != nil {
		return nil, fmt.Errorf("failed to decode device model snapshot: %w", err)
	}
	return vars, nil
}

// ChargingProfileRepository persists smartcharging.Store's installed
// ChargePointMaxProfile/TxDefaultProfile tiers (internal/fleet does not
// persist TxProfiles).
type ChargingProfileRepository struct {
	collection *mongo.Collection
}

func NewChargingProfileRepository(db *MongoDBClient) *ChargingProfileRepository {
	return &ChargingProfileRepository{collection: db.ChargingProfilesCollection}
}

// ReplaceAll overwrites stationID's installed-profile snapshot.
func (r *ChargingProfileRepository) ReplaceAll(ctx context.Context, stationID string, records []ChargingProfileRecord) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"station_id": stationID}); err != nil {
		return fmt.Errorf("failed to clear charging profiles: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write charging profiles: %w", err)
	}
	return nil
}

// GetAll loads stationID's installed-profile snapshot.
func (r *ChargingProfileRepository) GetAll(ctx context.Context, stationID string) ([]ChargingProfileRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"station_id": stationID})
	if err != nil {
		return nil, fmt.Errorf("failed to query charging profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var records []ChargingProfileRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode charging profiles: %w", err)
	}
	return records, nil
}
