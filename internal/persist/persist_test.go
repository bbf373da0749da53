package persist

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/banux/caderneta/internal/album"
	fsbackend "github.com/banux/caderneta/internal/backend/fs"
	"github.com/banux/caderneta/internal/normalize"
)

// canonicalJPEG returns a JPEG with the sticker dimensions.
func canonicalJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T, total int, capacity int64) (*Manager, *fsbackend.Backend) {
	t.Helper()
	b, err := fsbackend.New(t.TempDir(), capacity)
	if err != nil {
		t.Fatalf("fs.New: %v", err)
	}
	return New(b, "", total), b
}

func assertEmpty(t *testing.T, a *album.Album, total int) {
	t.Helper()
	if a.Len() != total {
		t.Fatalf("Len: got %d, want %d", a.Len(), total)
	}
	if a.Occupied() != 0 {
		t.Errorf("expected all-empty album, %d occupied", a.Occupied())
	}
}

func TestLoad_NoRecord(t *testing.T) {
	m, _ := newTestManager(t, 1000, 0)
	assertEmpty(t, m.Load(context.Background()), 1000)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 10, 0)

	img := canonicalJPEG(t, normalize.TargetWidth, normalize.TargetHeight)
	a := album.New(10)
	_ = a.Set(0, album.Sticker{Image: img, Hash: "11"})
	_ = a.Set(7, album.Sticker{Image: img, Hash: "-42"})

	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := m.Load(ctx)
	if got.Len() != 10 || got.Occupied() != 2 {
		t.Fatalf("Load: len=%d occupied=%d", got.Len(), got.Occupied())
	}
	s, _ := got.Get(7)
	st, ok := s.Sticker()
	if !ok || st.Hash != "-42" || !bytes.Equal(st.Image, img) {
		t.Errorf("slot 7 not restored: ok=%v hash=%q", ok, st.Hash)
	}
}

func TestSave_RecordLayout(t *testing.T) {
	ctx := context.Background()
	m, b := newTestManager(t, 3, 0)
	img := canonicalJPEG(t, normalize.TargetWidth, normalize.TargetHeight)
	a := album.New(3)
	_ = a.Set(1, album.Sticker{Image: img, Hash: "5"})
	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := b.Get(ctx, DefaultKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, `[null,{"image":"data:image/jpeg;base64,`) || !strings.HasSuffix(s, `","hash":"5"},null]`) {
		t.Errorf("unexpected record layout: %.80s...", s)
	}
}

func TestLoad_InvalidRecords(t *testing.T) {
	ctx := context.Background()
	good := normalize.DataURL(canonicalJPEG(t, normalize.TargetWidth, normalize.TargetHeight))
	wrongSize := normalize.DataURL(canonicalJPEG(t, 100, 100))

	cases := map[string]string{
		"not json":       `{{{`,
		"object":         `{"a":1}`,
		"wrong length":   `[null,null]`,
		"too long":       `[null,null,null,null]`,
		"bad data url":   `[null,{"image":"http://x","hash":"1"},null]`,
		"bad base64":     `[null,{"image":"data:image/jpeg;base64,@@@","hash":"1"},null]`,
		"not an image":   `[null,{"image":"data:image/jpeg;base64,aGVsbG8=","hash":"1"},null]`,
		"wrong size":     `[null,{"image":"` + wrongSize + `","hash":"1"},null]`,
		"repeated hash":  `[{"image":"` + good + `","hash":"1"},{"image":"` + good + `","hash":"1"},null]`,
		"missing hash":   `[{"image":"` + good + `"},null,null]`,
		"element string": `["x",null,null]`,
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			m, b := newTestManager(t, 3, 0)
			if err := b.Put(ctx, DefaultKey, []byte(rec)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			assertEmpty(t, m.Load(ctx), 3)
		})
	}
}

func TestSave_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 4, 64)
	img := canonicalJPEG(t, normalize.TargetWidth, normalize.TargetHeight)
	a := album.New(4)
	_ = a.Set(0, album.Sticker{Image: img, Hash: "1"})

	err := m.Save(ctx, a)
	if !errors.Is(err, album.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// Memory is not touched.
	if a.Occupied() != 1 {
		t.Error("Save modified the in-memory album")
	}
}

func TestSave_WrongLength(t *testing.T) {
	m, _ := newTestManager(t, 4, 0)
	if err := m.Save(context.Background(), album.New(5)); err == nil {
		t.Error("expected error saving an album of the wrong size")
	}
}

func TestReset_ThenLoadIsEmpty(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 50, 0)
	img := canonicalJPEG(t, normalize.TargetWidth, normalize.TargetHeight)
	a := album.New(50)
	for i := 0; i < 5; i++ {
		_ = a.Set(i, album.Sticker{Image: img, Hash: string(rune('a' + i))})
	}
	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Load(ctx).Occupied() != 5 {
		t.Fatal("expected saved stickers before reset")
	}
	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	assertEmpty(t, m.Load(ctx), 50)
}
