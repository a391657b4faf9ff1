package dispatch

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/channel/dryrun"
	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

func writePNG(t *testing.T, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestPayloadText(t *testing.T) {
	p := Payload{Text: "Hello there"}
	require.NoError(t, p.Validate())
	assert.False(t, p.IsImage())
	assert.Equal(t, audit.KindText, p.Kind())
	assert.Equal(t, "Hello there", p.Summary())
}

func TestPayloadImage(t *testing.T) {
	path := writePNG(t, "promo.png")
	p := Payload{ImagePath: path, Caption: "Sale"}
	require.NoError(t, p.Validate())
	assert.True(t, p.IsImage())
	assert.Equal(t, audit.KindImage, p.Kind())
	assert.Equal(t, "Image: promo.png", p.Summary())
}

func TestPayloadInvalid(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi"), 0o600))
	fake := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(fake, []byte("not a jpeg"), 0o600))

	cases := map[string]Payload{
		"empty":       {},
		"blank text":  {Text: " \n"},
		"extension":   {ImagePath: txt},
		"missing":     {ImagePath: filepath.Join(dir, "gone.png")},
		"undecodable": {ImagePath: fake},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
		})
	}
}

func TestRunImagePayload(t *testing.T) {
	path := writePNG(t, "banner.png")
	store := &memStore{}
	dr := dryrun.New("dry", logx.Nop())

	tasks := NewTasks([]phone.Number{alice, bob}, Payload{ImagePath: path, Caption: "New menu"})
	rep, err := New(Config{}, store, logx.Nop()).Run(context.Background(), tasks, []channel.Channel{dr})
	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, rep.Classification)

	sent := dr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, path, sent[0].Image)
	assert.Equal(t, "New menu", sent[0].Caption)

	require.Len(t, store.recs, 2)
	assert.Equal(t, audit.KindImage, store.recs[0].Type)
	assert.Equal(t, "Image: banner.png", store.recs[0].Content)
}
