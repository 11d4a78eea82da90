package registration

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/imageprocessor"
	"github.com/example/face-auth/internal/imaging"
	"github.com/example/face-auth/internal/repository"
)

// memoryUserStore mimics the transactional behaviour of the gorm store:
// writes made inside Transaction become visible only when fn succeeds.
type memoryUserStore struct {
	mu        sync.Mutex
	committed map[repository.NaturalKey]*repository.User
	nextID    uint
	// duplicateOnCreate simulates a concurrent insert winning the race.
	duplicateOnCreate *repository.User
	observed          []int
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{committed: map[repository.NaturalKey]*repository.User{}}
}

func (m *memoryUserStore) FindByNaturalKey(ctx context.Context, key repository.NaturalKey) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.committed[key.Normalized()]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUserStore) Transaction(ctx context.Context, fn func(tx repository.UserWriter) error) error {
	tx := &memoryTx{store: m, pending: map[repository.NaturalKey]*repository.User{}}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, u := range tx.pending {
		copied := *u
		m.committed[k] = &copied
	}
	return nil
}

func (m *memoryUserStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

type memoryTx struct {
	store   *memoryUserStore
	pending map[repository.NaturalKey]*repository.User
}

func (t *memoryTx) Create(ctx context.Context, u *repository.User) error {
	if err := u.BeforeSave(nil); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := u.Key().Normalized()
	if dup := t.store.duplicateOnCreate; dup != nil {
		t.store.committed[key] = dup
		return repository.ErrDuplicate
	}
	if _, exists := t.store.committed[key]; exists {
		return repository.ErrDuplicate
	}
	t.store.nextID++
	u.ID = t.store.nextID
	t.pending[key] = u
	t.store.observed = append(t.store.observed, len(u.FaceEncodings))
	return nil
}

func (t *memoryTx) Save(ctx context.Context, u *repository.User) error {
	if err := u.BeforeSave(nil); err != nil {
		return err
	}
	t.pending[u.Key().Normalized()] = u
	t.store.mu.Lock()
	t.store.observed = append(t.store.observed, len(u.FaceEncodings))
	t.store.mu.Unlock()
	return nil
}

// fakeExtractor derives a face from pixel (0,0): the red channel selects the
// person and a green value of 255 means no face is visible.
type fakeExtractor struct {
	noBoxes    bool
	extractErr error
	calls      int
}

func (f *fakeExtractor) Extract(ctx context.Context, img image.Image) ([]biometric.Vector, error) {
	f.calls++
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	r, g, _, _ := img.At(0, 0).RGBA()
	if g>>8 == 255 {
		return nil, nil
	}
	person := float64(r >> 8)
	return []biometric.Vector{{person, 0}, {person + 100, 0}}, nil
}

func (f *fakeExtractor) LocateFaces(ctx context.Context, img image.Image) ([]imageprocessor.BoundingBox, error) {
	if f.noBoxes {
		return nil, nil
	}
	b := img.Bounds()
	return []imageprocessor.BoundingBox{{Top: b.Dy() / 4, Right: 3 * b.Dx() / 4, Bottom: 3 * b.Dy() / 4, Left: b.Dx() / 4}}, nil
}

type memoryPassports struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func (m *memoryPassports) Save(ctx context.Context, key string, data []byte) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	ref := "mem://" + key
	m.saved[ref] = data
	return ref, nil
}

func (m *memoryPassports) Delete(ctx context.Context, ref string) error {
	m.deleted = append(m.deleted, ref)
	delete(m.saved, ref)
	return nil
}

func encodeFace(t *testing.T, person uint8, withFace bool) string {
	t.Helper()
	g := uint8(0)
	if !withFace {
		g = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(40, 40, color.RGBA{R: person, G: g, B: 0, A: 255})); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func fiveFaces(t *testing.T, person uint8) []string {
	t.Helper()
	images := make([]string, 5)
	for i := range images {
		images[i] = encodeFace(t, person, true)
	}
	return images
}

var testKey = repository.NaturalKey{StudentID: "S001", MatriculationNumber: "M123"}

func newTestPipeline() (*Pipeline, *memoryUserStore, *fakeExtractor, *memoryPassports) {
	store := newMemoryUserStore()
	extractor := &fakeExtractor{}
	passports := &memoryPassports{}
	return NewPipeline(store, extractor, passports, imaging.Decoder{}, DefaultPassportPadding, zap.NewNop()), store, extractor, passports
}

func TestRegisterSuccess(t *testing.T) {
	p, store, _, passports := newTestPipeline()

	outcome, err := p.Register(context.Background(), Request{
		Key:     testKey,
		Profile: repository.Profile{FirstName: "Ada", LastName: "Obi"},
		Images:  fiveFaces(t, 10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.AlreadyRegistered {
		t.Fatal("expected a new registration")
	}

	stored, err := store.FindByNaturalKey(context.Background(), testKey)
	if err != nil {
		t.Fatalf("expected committed user, got %v", err)
	}
	if len(stored.FaceEncodings) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(stored.FaceEncodings))
	}
	for i, v := range stored.FaceEncodings {
		if v[0] != 10 {
			t.Fatalf("vector %d: expected first detected face, got %v", i, v)
		}
	}
	if stored.Passport == "" {
		t.Fatal("expected passport reference")
	}

	crop, err := imaging.Decode(passports.saved[stored.Passport])
	if err != nil {
		t.Fatalf("stored passport is not an image: %v", err)
	}
	// 20x20 face box padded by 50% on each side is the full 40x40 frame.
	if crop.Bounds().Dx() != 40 || crop.Bounds().Dy() != 40 {
		t.Fatalf("unexpected passport size %v", crop.Bounds())
	}

	for _, n := range store.observed {
		if n != 0 && n != 5 {
			t.Fatalf("observed partial vector collection of %d", n)
		}
	}
}

func TestRegisterSameKeyTwiceIsIdempotent(t *testing.T) {
	p, store, extractor, _ := newTestPipeline()
	ctx := context.Background()

	if _, err := p.Register(ctx, Request{Key: testKey, Images: fiveFaces(t, 10)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _ := store.FindByNaturalKey(ctx, testKey)
	calls := extractor.calls

	outcome, err := p.Register(ctx, Request{
		Key:    repository.NaturalKey{StudentID: "s001", MatriculationNumber: "m123"},
		Images: fiveFaces(t, 99),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.AlreadyRegistered {
		t.Fatal("expected already registered")
	}
	if extractor.calls != calls {
		t.Fatal("expected no extraction work for an existing key")
	}

	after, _ := store.FindByNaturalKey(ctx, testKey)
	if store.count() != 1 {
		t.Fatalf("expected one user, got %d", store.count())
	}
	for i := range before.FaceEncodings {
		if before.FaceEncodings[i][0] != after.FaceEncodings[i][0] {
			t.Fatalf("vector %d changed after second registration", i)
		}
	}
}

func TestRegisterRejectsWrongImageCount(t *testing.T) {
	for _, n := range []int{0, 4, 6} {
		p, store, extractor, _ := newTestPipeline()
		images := make([]string, n)
		for i := range images {
			images[i] = encodeFace(t, 1, true)
		}

		_, err := p.Register(context.Background(), Request{Key: testKey, Images: images})
		if !errors.Is(err, autherr.ErrInvalidImageCount) {
			t.Fatalf("n=%d: expected invalid image count, got %v", n, err)
		}
		if store.count() != 0 || len(store.observed) != 0 {
			t.Fatalf("n=%d: expected no writes", n)
		}
		if extractor.calls != 0 {
			t.Fatalf("n=%d: expected no extraction", n)
		}
	}
}

func TestRegisterRollsBackWhenAnImageHasNoFace(t *testing.T) {
	p, store, _, passports := newTestPipeline()
	images := fiveFaces(t, 10)
	images[2] = encodeFace(t, 10, false)

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: images})
	if !errors.Is(err, autherr.NoFaceDetected(2)) {
		t.Fatalf("expected no face in image 3, got %v", err)
	}
	if _, err := store.FindByNaturalKey(context.Background(), testKey); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no user row, got %v", err)
	}
	if len(passports.saved) != 0 {
		t.Fatalf("expected no passport to be stored, got %d", len(passports.saved))
	}
}

func TestRegisterInvalidEncoding(t *testing.T) {
	p, store, _, _ := newTestPipeline()
	images := fiveFaces(t, 10)
	images[4] = "data:image/jpeg;base64,!!!!"

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: images})
	if !errors.Is(err, autherr.InvalidEncoding(4, nil)) {
		t.Fatalf("expected invalid encoding at index 4, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterUnsupportedFormat(t *testing.T) {
	p, store, _, _ := newTestPipeline()
	images := fiveFaces(t, 10)
	images[1] = base64.StdEncoding.EncodeToString([]byte("BM not really a bitmap"))

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: images})
	if !errors.Is(err, autherr.UnsupportedImageFormat(1, nil)) {
		t.Fatalf("expected unsupported format at index 1, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterRejectsImagesOverPixelLimit(t *testing.T) {
	store := newMemoryUserStore()
	extractor := &fakeExtractor{}
	p := NewPipeline(store, extractor, &memoryPassports{}, imaging.Decoder{MaxPixels: 30 * 30}, DefaultPassportPadding, zap.NewNop())

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)})
	if !errors.Is(err, autherr.UnsupportedImageFormat(0, nil)) || !errors.Is(err, imaging.ErrTooLarge) {
		t.Fatalf("expected oversized image 1 to be rejected, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterPassportNeedsAFaceBox(t *testing.T) {
	p, store, extractor, _ := newTestPipeline()
	extractor.noBoxes = true

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)})
	if !errors.Is(err, autherr.NoFaceDetected(0)) {
		t.Fatalf("expected no face in image 1, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterExtractorFailureRollsBack(t *testing.T) {
	p, store, extractor, _ := newTestPipeline()
	extractor.extractErr = errors.New("extractor unavailable")

	_, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)})
	if err == nil || autherr.KindOf(err) != autherr.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterPassportStoreFailureRollsBack(t *testing.T) {
	p, store, _, passports := newTestPipeline()
	passports.saveErr = errors.New("disk full")

	if _, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)}); err == nil {
		t.Fatal("expected error")
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

type failingSaveStore struct {
	*memoryUserStore
}

func (f failingSaveStore) Transaction(ctx context.Context, fn func(tx repository.UserWriter) error) error {
	return f.memoryUserStore.Transaction(ctx, func(tx repository.UserWriter) error {
		return fn(saveFails{tx})
	})
}

type saveFails struct{ repository.UserWriter }

func (saveFails) Save(context.Context, *repository.User) error { return errors.New("connection lost") }

func TestRegisterRemovesPassportWhenCommitFails(t *testing.T) {
	store := newMemoryUserStore()
	passports := &memoryPassports{}
	p := NewPipeline(failingSaveStore{store}, &fakeExtractor{}, passports, imaging.Decoder{}, DefaultPassportPadding, zap.NewNop())

	if _, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)}); err == nil {
		t.Fatal("expected error")
	}
	if len(passports.deleted) != 1 || len(passports.saved) != 0 {
		t.Fatalf("expected stored passport to be removed, saved=%d deleted=%d", len(passports.saved), len(passports.deleted))
	}
	if store.count() != 0 {
		t.Fatal("expected rollback")
	}
}

func TestRegisterConcurrentDuplicateIsAlreadyRegistered(t *testing.T) {
	p, store, _, passports := newTestPipeline()
	winner := &repository.User{ID: 42, StudentID: "S001", MatriculationNumber: "M123"}
	store.duplicateOnCreate = winner

	outcome, err := p.Register(context.Background(), Request{Key: testKey, Images: fiveFaces(t, 10)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !outcome.AlreadyRegistered || outcome.User == nil || outcome.User.ID != 42 {
		t.Fatalf("expected the concurrently registered user, got %+v", outcome)
	}
	if len(passports.saved) != 0 {
		t.Fatal("expected no passport for the losing request")
	}
}

func TestRegisterRequiresNaturalKey(t *testing.T) {
	p, _, _, _ := newTestPipeline()
	_, err := p.Register(context.Background(), Request{Key: repository.NaturalKey{StudentID: "S001"}, Images: fiveFaces(t, 1)})
	if !errors.Is(err, autherr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
