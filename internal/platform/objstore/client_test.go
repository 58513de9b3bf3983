package objstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestIsBucketAlreadyOwnedByYou(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("boom"), false},
		{"typed already owned", &types.BucketAlreadyOwnedByYou{}, true},
		{"typed already exists", &types.BucketAlreadyExists{}, true},
		{"wire code already owned", &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"}, true},
		{"wire code already exists", &smithy.GenericAPIError{Code: "BucketAlreadyExists"}, true},
		{"unrelated wire code", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"wrapped typed error", fmt.Errorf("create: %w", &types.BucketAlreadyOwnedByYou{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isBucketAlreadyOwnedByYou(tt.err)
			if got != tt.want {
				t.Errorf("isBucketAlreadyOwnedByYou() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("boom"), false},
		{"typed no such bucket", &types.NoSuchBucket{}, true},
		{"typed no such key", &types.NoSuchKey{}, true},
		{"typed not found", &types.NotFound{}, true},
		{"wire code NotFound", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"wire code NoSuchKey", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"wire code 404", &smithy.GenericAPIError{Code: "404"}, true},
		{"unrelated wire code", &smithy.GenericAPIError{Code: "SlowDown"}, false},
		{"wrapped typed error", fmt.Errorf("head: %w", &types.NotFound{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsNotFound(tt.err)
			if got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("https://fsn1.your-objectstorage.example", "fsn1", "access", "secret")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("NewClient() returned nil client")
	}
	if client.region != "fsn1" {
		t.Errorf("region = %q, want %q", client.region, "fsn1")
	}
}

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() second call error = %v", err)
	}

	exists, err := store.BucketExists(ctx, "manifests")
	if err != nil || !exists {
		t.Fatalf("BucketExists() = %v, %v, want true, nil", exists, err)
	}

	if err := store.PutObject(ctx, "manifests", "stacks/alpha.yaml", []byte("state: available")); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	data, err := store.GetObject(ctx, "manifests", "stacks/alpha.yaml")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(data) != "state: available" {
		t.Errorf("GetObject() = %q, want %q", data, "state: available")
	}
}

func TestMemStoreGetMissingObjectIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	_, err := store.GetObject(ctx, "manifests", "stacks/missing.yaml")
	if err == nil {
		t.Fatal("GetObject() expected error for missing object")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestMemStoreGetFromMissingBucketIsNotFound(t *testing.T) {
	store := NewMemStore()

	_, err := store.GetObject(context.Background(), "nope", "key")
	if err == nil {
		t.Fatal("GetObject() expected error for missing bucket")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestMemStoreListObjectsByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	for _, key := range []string{"stacks/beta.yaml", "stacks/alpha.yaml", "keys/cluster.pub"} {
		if err := store.PutObject(ctx, "manifests", key, []byte("x")); err != nil {
			t.Fatalf("PutObject(%s) error = %v", key, err)
		}
	}

	keys, err := store.ListObjects(ctx, "manifests", "stacks/")
	if err != nil {
		t.Fatalf("ListObjects() error = %v", err)
	}
	want := []string{"stacks/alpha.yaml", "stacks/beta.yaml"}
	if len(keys) != len(want) {
		t.Fatalf("ListObjects() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ListObjects()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestMemStoreEmptyAndDeleteBucket(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if err := store.PutObject(ctx, "manifests", "stacks/alpha.yaml", []byte("x")); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	if err := store.EmptyAndDeleteBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EmptyAndDeleteBucket() error = %v", err)
	}

	exists, err := store.BucketExists(ctx, "manifests")
	if err != nil || exists {
		t.Fatalf("BucketExists() after delete = %v, %v, want false, nil", exists, err)
	}

	// Deleting again is a no-op, matching the real client.
	if err := store.EmptyAndDeleteBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EmptyAndDeleteBucket() second call error = %v", err)
	}
}

func TestMemStoreDeleteAbsentObjectSucceeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.EnsureBucket(ctx, "manifests"); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	if err := store.DeleteObject(ctx, "manifests", "stacks/never-written.yaml"); err != nil {
		t.Errorf("DeleteObject() error = %v, want nil", err)
	}
}
