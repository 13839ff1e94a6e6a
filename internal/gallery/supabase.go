package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	postgrest "github.com/supabase-community/postgrest-go"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

const (
	imagesTable   = "saved_images"
	feedbackTable = "feedback_messages"
)

// SupabaseStore keeps blobs in a Storage bucket and rows in PostgREST
// tables. The client API is not context aware, so ctx is unused.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStore(url, key, bucket string) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &SupabaseStore{client: client, bucket: bucket}, nil
}

func (s *SupabaseStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	upsert := true
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to bucket %s: %w", s.bucket, err)
	}
	return s.client.Storage.GetPublicUrl(s.bucket, key).SignedURL, nil
}

func (s *SupabaseStore) Remove(_ context.Context, key string) error {
	if _, err := s.client.Storage.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) Insert(_ context.Context, rec Record) (Record, error) {
	data, _, err := s.client.From(imagesTable).
		Insert(rec, false, "", "representation", "").
		Execute()
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert image record: %w", err)
	}

	var rows []Record
	if err := json.Unmarshal(data, &rows); err != nil {
		return Record{}, fmt.Errorf("failed to parse inserted record: %w", err)
	}
	if len(rows) == 0 {
		return rec, nil
	}
	return rows[0], nil
}

func (s *SupabaseStore) List(_ context.Context) ([]Record, error) {
	data, _, err := s.client.From(imagesTable).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var rows []Record
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse images: %w", err)
	}
	return rows, nil
}

func (s *SupabaseStore) Delete(_ context.Context, id ID) error {
	_, _, err := s.client.From(imagesTable).
		Delete("", "").
		Eq("id", string(id)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", id, err)
	}
	return nil
}

func (s *SupabaseStore) InsertMessage(_ context.Context, msg Message) (Message, error) {
	data, _, err := s.client.From(feedbackTable).
		Insert(msg, false, "", "representation", "").
		Execute()
	if err != nil {
		return Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	var rows []Message
	if err := json.Unmarshal(data, &rows); err != nil {
		return Message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if len(rows) == 0 {
		return msg, nil
	}
	return rows[0], nil
}

func (s *SupabaseStore) ListMessages(_ context.Context) ([]Message, error) {
	data, _, err := s.client.From(feedbackTable).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var rows []Message
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	return rows, nil
}
