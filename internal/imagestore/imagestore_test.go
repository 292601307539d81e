package imagestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngDataURL renders a solid w×h PNG as a data URL.
func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeJPEG(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return img
}

// =========================================================================
// NORMALIZE TESTS
// =========================================================================

func TestNormalize_KeepsSmallImages(t *testing.T) {
	out, err := Normalize(pngDataURL(t, 300, 200))
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 300, b.Dx())
	assert.Equal(t, 200, b.Dy())
}

func TestNormalize_ScalesDownWideImages(t *testing.T) {
	out, err := Normalize(pngDataURL(t, 2160, 1000))
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, MaxWidth, b.Dx())
	assert.Equal(t, 500, b.Dy())
}

func TestNormalize_AcceptsBareBase64(t *testing.T) {
	dataURL := pngDataURL(t, 10, 10)
	_, payload, _ := bytes.Cut([]byte(dataURL), []byte(","))

	_, err := Normalize(string(payload))
	assert.NoError(t, err)
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "data:image/png;base64,@@@@"},
		{"not an image", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"not base64 encoded data URL", "data:image/png,rawbytes"},
		{"non-image media type", "data:text/plain;base64,aGVsbG8="},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			assert.True(t, errors.Is(err, ErrInvalidImage), "got %v", err)
		})
	}
}

// =========================================================================
// KEY TESTS
// =========================================================================

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://bucket.s3.us-east-1.amazonaws.com/posts/ab12cd.jpg", "ab12cd"},
		{"http://localhost:5000/uploads/xyz.jpeg?v=2", "xyz"},
		{"https://res.cloudinary.com/demo/image/upload/v1/sample.png", "sample"},
		{"noext", "noext"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromURL(tt.url))
		})
	}
}

func TestNewKey_Unique(t *testing.T) {
	assert.NotEqual(t, NewKey(), NewKey())
}

// =========================================================================
// LOCAL STORE TESTS
// =========================================================================

func TestLocalStore_UploadServeDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://localhost:5000/")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Upload(ctx, "k1", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/uploads/k1.jpg", url)
	assert.Equal(t, "k1", KeyFromURL(url))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/k1.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	require.NoError(t, s.Delete(ctx, "k1"))
	_, err = os.Stat(filepath.Join(dir, "k1.jpg"))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is fine.
	assert.NoError(t, s.Delete(ctx, "k1"))
}

func TestLocalStore_RejectsPathKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)
	assert.Error(t, s.Delete(context.Background(), "a/b"))
}

// =========================================================================
// S3 STORE TESTS
// =========================================================================

type fakeS3 struct {
	objects map[string][]byte
	failPut error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_UploadDelete(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3Store(fake, "media", "posts/", "https://cdn.example.com/")
	ctx := context.Background()

	url, err := s.Upload(ctx, "abc", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/posts/abc.jpg", url)
	assert.Equal(t, []byte("img"), fake.objects["media/posts/abc.jpg"])

	require.NoError(t, s.Delete(ctx, KeyFromURL(url)))
	assert.Empty(t, fake.objects)
}

func TestS3Store_UploadError(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, failPut: errors.New("access denied")}
	s := newS3Store(fake, "media", "", "https://cdn.example.com")

	_, err := s.Upload(context.Background(), "abc", []byte("img"))
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}
