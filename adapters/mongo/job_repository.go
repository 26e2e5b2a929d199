package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const (
	providersCollection = "transcription_providers"
	jobsCollection      = "transcription_jobs"
)

type providerDocument struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
}

type jobDocument struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	MediaPackageID     string             `bson:"media_package_id"`
	TrackID            string             `bson:"track_id"`
	TranscriptionJobID string             `bson:"transcription_job_id"`
	ProviderID         primitive.ObjectID `bson:"provider_id"`
	Provider           string             `bson:"provider"`
	Status             string             `bson:"status"`
	TrackDurationMs    int64              `bson:"track_duration"`
	DateCreated        time.Time          `bson:"date_created"`
	DateUpdated        time.Time          `bson:"date_updated"`
}

func (d *jobDocument) toEntity() (*entities.JobRecord, error) {
	status, err := entities.ParseJobStatus(d.Status)
	if err != nil {
		return nil, err
	}
	return &entities.JobRecord{
		ID:                 d.ID.Hex(),
		MediaPackageID:     d.MediaPackageID,
		TrackID:            d.TrackID,
		TranscriptionJobID: d.TranscriptionJobID,
		ProviderID:         d.ProviderID.Hex(),
		Provider:           d.Provider,
		Status:             status,
		TrackDuration:      time.Duration(d.TrackDurationMs) * time.Millisecond,
		DateCreated:        d.DateCreated.UTC(),
		DateUpdated:        d.DateUpdated.UTC(),
	}, nil
}

// JobRepository stores job records in MongoDB
type JobRepository struct {
	providers *mongo.Collection
	jobs      *mongo.Collection
}

// Ensure JobRepository implements the TranscriptionJobRepository interface
var _ repositories.TranscriptionJobRepository = (*JobRepository)(nil)

// NewJobRepository creates a MongoDB job repository and makes sure its indexes exist
func NewJobRepository(ctx context.Context, db *mongo.Database) (*JobRepository, error) {
	r := &JobRepository{
		providers: db.Collection(providersCollection),
		jobs:      db.Collection(jobsCollection),
	}

	if _, err := r.providers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("failed to create provider index: %w", err)
	}

	if _, err := r.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "transcription_job_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "transcription_job_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "date_created", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create job indexes: %w", err)
	}

	return r, nil
}

// Create implements repositories.TranscriptionJobRepository
func (r *JobRepository) Create(ctx context.Context, record *entities.JobRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	provider, err := r.registerProvider(ctx, record.Provider)
	if err != nil {
		return err
	}

	doc := jobDocument{
		MediaPackageID:     record.MediaPackageID,
		TrackID:            record.TrackID,
		TranscriptionJobID: record.TranscriptionJobID,
		ProviderID:         provider.ID,
		Provider:           provider.Name,
		Status:             string(record.Status),
		TrackDurationMs:    record.TrackDuration.Milliseconds(),
		DateCreated:        record.DateCreated,
		DateUpdated:        record.TerminalSince(),
	}

	result, err := r.jobs.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: transcription job %s", domain.ErrDuplicate, record.TranscriptionJobID)
		}
		return fmt.Errorf("failed to create job record: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid.Hex()
	}
	record.ProviderID = provider.ID.Hex()
	return nil
}

// registerProvider returns the provider document, inserting it on first use
func (r *JobRepository) registerProvider(ctx context.Context, name string) (*providerDocument, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	filter := bson.M{"name": name}
	update := bson.M{"$setOnInsert": bson.M{"name": name}}

	var provider providerDocument
	err := r.providers.FindOneAndUpdate(ctx, filter, update, opts).Decode(&provider)
	if mongo.IsDuplicateKeyError(err) {
		// lost a concurrent upsert; the document exists now
		err = r.providers.FindOne(ctx, filter).Decode(&provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register provider %s: %w", name, err)
	}
	return &provider, nil
}

// GetByTranscriptionJobID implements repositories.TranscriptionJobRepository
func (r *JobRepository) GetByTranscriptionJobID(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "date_created", Value: 1}, {Key: "_id", Value: 1}})

	var doc jobDocument
	err := r.jobs.FindOne(ctx, bson.M{"transcription_job_id": transcriptionJobID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return doc.toEntity()
}

// FindByStatus implements repositories.TranscriptionJobRepository
func (r *JobRepository) FindByStatus(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	opts := options.Find().SetSort(bson.D{{Key: "date_created", Value: 1}, {Key: "transcription_job_id", Value: 1}})
	cursor, err := r.jobs.Find(ctx, bson.M{"status": bson.M{"$in": values}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query job records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*entities.JobRecord
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode job record: %w", err)
		}
		record, err := doc.toEntity()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job records: %w", err)
	}
	return records, nil
}

// FindProvider implements repositories.TranscriptionJobRepository
func (r *JobRepository) FindProvider(ctx context.Context, name string) (*entities.Provider, error) {
	var doc providerDocument
	if err := r.providers.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: provider %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &entities.Provider{ID: doc.ID.Hex(), Name: doc.Name}, nil
}

// UpdateStatus implements repositories.TranscriptionJobRepository
func (r *JobRepository) UpdateStatus(ctx context.Context, provider, transcriptionJobID string, from, to entities.JobStatus, at time.Time) error {
	if err := entities.ValidateTransition(from, to); err != nil {
		return err
	}

	result, err := r.jobs.UpdateOne(ctx,
		bson.M{"provider": provider, "transcription_job_id": transcriptionJobID, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "date_updated": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	var current jobDocument
	err = r.jobs.FindOne(ctx, bson.M{"provider": provider, "transcription_job_id": transcriptionJobID}).Decode(&current)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
		}
		return fmt.Errorf("failed to get job record: %w", err)
	}
	return fmt.Errorf("%w: transcription job %s is %s, not %s", domain.ErrConflict, transcriptionJobID, current.Status, from)
}

// Delete implements repositories.TranscriptionJobRepository
func (r *JobRepository) Delete(ctx context.Context, provider, transcriptionJobID string) error {
	result, err := r.jobs.DeleteOne(ctx, bson.M{"provider": provider, "transcription_job_id": transcriptionJobID})
	if err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
	}
	return nil
}
