package passport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestNewKey(t *testing.T) {
	now := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	key := NewKey(" S/001 ", now)
	if !strings.HasPrefix(key, "passports/2026/03/07/s_001-") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected key %q", key)
	}
	if NewKey("S001", now) == NewKey("S001", now) {
		t.Fatal("expected keys to be unique")
	}
}

func TestLocalStoreSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ref, err := store.Save(context.Background(), "passports/2026/01/01/s001.png", []byte("png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != filepath.Join(dir, "passports", "2026", "01", "01", "s001.png") {
		t.Fatalf("unexpected ref %q", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil || string(data) != "png" {
		t.Fatalf("expected stored file, got %q (%v)", data, err)
	}

	if err := store.Delete(context.Background(), ref); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone, got %v", err)
	}
	if err := store.Delete(context.Background(), ref); err != nil {
		t.Fatalf("expected deleting a missing file to succeed, got %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Save(context.Background(), "../outside.png", []byte("x")); err == nil {
		t.Fatal("expected escaping key to be rejected")
	}
}

type stubObjectAPI struct {
	puts    map[string][]byte
	deletes []string
	putErr  error
}

func (s *stubObjectAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	body, _ := io.ReadAll(in.Body)
	if s.puts == nil {
		s.puts = map[string][]byte{}
	}
	s.puts[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (s *stubObjectAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	s.deletes = append(s.deletes, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreSaveAndDelete(t *testing.T) {
	api := &stubObjectAPI{}
	store := NewS3StoreWithClient(api, "faces")

	ref, err := store.Save(context.Background(), "passports/a.png", []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "s3://faces/passports/a.png" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if !bytes.Equal(api.puts["faces/passports/a.png"], []byte("img")) {
		t.Fatalf("unexpected upload %v", api.puts)
	}

	if err := store.Delete(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deletes) != 1 || api.deletes[0] != "faces/passports/a.png" {
		t.Fatalf("unexpected deletes %v", api.deletes)
	}
	if err := store.Delete(context.Background(), "s3://other/passports/a.png"); err == nil {
		t.Fatal("expected foreign bucket reference to be rejected")
	}
}

func TestS3StoreSaveError(t *testing.T) {
	boom := errors.New("access denied")
	store := NewS3StoreWithClient(&stubObjectAPI{putErr: boom}, "faces")
	if _, err := store.Save(context.Background(), "k", []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
