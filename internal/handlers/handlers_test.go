package handlers

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/food-classifier/internal/metadata"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/Brownie44l1/food-classifier/internal/upload"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}

type stubClassifier struct {
	scores []float32
	err    error
	closed *atomic.Int32
}

func (s *stubClassifier) Predict([]float32) ([]float32, error) {
	return s.scores, s.err
}

func (s *stubClassifier) Close() error {
	s.closed.Add(1)
	return nil
}

type fixture struct {
	handler   *Handler
	uploadDir string
	closed    *atomic.Int32
}

func newFixture(t *testing.T, scores []float32, predictErr error) *fixture {
	t.Helper()
	dir := t.TempDir()

	vggPath := filepath.Join(dir, "VGG16_model.stub")
	require.NoError(t, os.WriteFile(vggPath, []byte("weights"), 0o644))

	registry := model.NewRegistry(
		model.Descriptor{Name: "VGG16", Path: vggPath, Layout: preprocess.NHWC, Normalization: preprocess.Caffe},
		model.Descriptor{Name: "ResNet50", Path: filepath.Join(dir, "ResNet_model.stub")},
		model.Descriptor{Name: "CustomModel", Path: filepath.Join(dir, "custom_model.stub")},
	)
	closed := new(atomic.Int32)
	registry.RegisterLoader(".stub", func(model.Descriptor) (model.Classifier, error) {
		return &stubClassifier{scores: scores, err: predictErr, closed: closed}, nil
	})

	meta := metadata.New(
		[]string{"apple", "bread", "cake", "banana"},
		map[string]any{"VGG16": map[string]any{"accuracy": 0.91}, "ResNet50": 0.87},
		map[string]metadata.FoodInfo{"banana": {"calories": float64(89), "potassium": "358mg"}},
	)

	uploadDir := filepath.Join(dir, "static", "uploaded")
	uploads, err := upload.New(uploadDir)
	require.NoError(t, err)

	return &fixture{
		handler:   NewHandler(registry, meta, preprocess.New(8), uploads, 10<<20),
		uploadDir: uploadDir,
		closed:    closed,
	}
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 200, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type filePart struct {
	filename string
	content  []byte
}

func uploadRequest(t *testing.T, modelName string, file *filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("model_name", modelName))
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.filename+`"`)
		h.Set("Content-Type", "application/octet-stream")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.Index(rec, req)
	return rec
}

var bananaScores = []float32{0.05, 0.1, 0.05, 0.8}

func TestIndexGet(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "VGG16")
	assert.Contains(t, body, "ResNet50")
	assert.Contains(t, body, "0.91")
	assert.NotContains(t, body, "Prediction:")
	assert.NotContains(t, body, `class="error"`)
}

func TestIndexInvalidModel(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	for _, name := range []string{"", "AlexNet", "vgg16", "VGG16 "} {
		t.Run(name, func(t *testing.T) {
			rec := serve(f, uploadRequest(t, name, &filePart{"banana.jpg", testImage(t)}))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), MsgInvalidModel)
			assert.NotContains(t, rec.Body.String(), "Prediction:")
			assert.Contains(t, rec.Body.String(), "0.91")
		})
	}
	assert.Equal(t, int32(0), f.closed.Load())
}

func TestIndexModelNotFound(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	for _, name := range []string{"ResNet50", "CustomModel"} {
		rec := serve(f, uploadRequest(t, name, &filePart{"banana.jpg", testImage(t)}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), MsgModelNotFound)
		assert.NotContains(t, rec.Body.String(), "Prediction:")
	}
}

func TestIndexValidationOrder(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, uploadRequest(t, "AlexNet", nil))
	assert.Contains(t, rec.Body.String(), MsgInvalidModel)

	rec = serve(f, uploadRequest(t, "ResNet50", nil))
	assert.Contains(t, rec.Body.String(), MsgModelNotFound)
	assert.NotContains(t, rec.Body.String(), MsgNoFileUploaded)
}

func TestIndexNoFileUploaded(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, uploadRequest(t, "VGG16", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgNoFileUploaded)
	assert.Equal(t, int32(1), f.closed.Load(), "loaded model must be released")
}

func TestIndexNoFileUploadedURLEncoded(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	form := url.Values{"model_name": {"VGG16"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(f, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgNoFileUploaded)
}

func TestIndexNoSelectedFile(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"", nil}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgNoSelectedFile)
	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIndexPredictsBanana(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", testImage(t)}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<mark class="prediction">banana</mark>`)
	assert.Contains(t, body, "calories: 89")
	assert.Contains(t, body, "potassium: 358mg")
	assert.Contains(t, body, UploadRoute+"banana.jpg")
	assert.Contains(t, body, "0.91")
	assert.NotContains(t, body, `class="error"`)

	saved, err := os.ReadFile(filepath.Join(f.uploadDir, "banana.jpg"))
	require.NoError(t, err)
	assert.Equal(t, testImage(t), saved)
	assert.Equal(t, int32(1), f.closed.Load())
}

func TestIndexPredictsFromBMP(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	img, err := png.Decode(bytes.NewReader(testImage(t)))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.bmp", buf.Bytes()}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<mark class="prediction">banana</mark>`)
	assert.NotContains(t, rec.Body.String(), MsgInvalidImage)
}

func TestIndexPredictionWithoutFoodInfo(t *testing.T) {
	f := newFixture(t, []float32{0.1, 0.1, 0.7, 0.1}, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"cake.png", testImage(t)}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<mark class="prediction">cake</mark>`)
	assert.Contains(t, rec.Body.String(), "No nutritional information available.")
}

func TestIndexTieBreaksToFirstIndex(t *testing.T) {
	f := newFixture(t, []float32{0.1, 0.45, 0.0, 0.45}, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"toast.png", testImage(t)}))

	assert.Contains(t, rec.Body.String(), `<mark class="prediction">bread</mark>`)
}

func TestIndexSameNameOverwrites(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	first := testImage(t)
	second := append(append([]byte{}, first...), []byte("trailing")...)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", first}))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", second}))
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	saved, err := os.ReadFile(filepath.Join(f.uploadDir, "banana.jpg"))
	require.NoError(t, err)
	assert.Equal(t, second, saved)
}

func TestIndexUndecodableImage(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", []byte("not an image")}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgInvalidImage)
	assert.Contains(t, rec.Body.String(), "0.91")
}

func TestIndexInferenceFailure(t *testing.T) {
	f := newFixture(t, nil, errors.New("session run failed"))

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", testImage(t)}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgPredictionFailed)
}

func TestIndexLabelOutOfRange(t *testing.T) {
	f := newFixture(t, []float32{0, 0, 0, 0, 0, 1}, nil)

	rec := serve(f, uploadRequest(t, "VGG16", &filePart{"banana.jpg", testImage(t)}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgPredictionFailed)
}

func TestIndexMalformedBodyRejectedBeforeModelCheck(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	req := uploadRequest(t, "AlexNet", &filePart{"banana.jpg", testImage(t)})
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	truncated := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body[:len(body)-64]))
	truncated.Header.Set("Content-Type", req.Header.Get("Content-Type"))

	rec := serve(f, truncated)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgBadRequest)
	assert.NotContains(t, rec.Body.String(), MsgInvalidModel)
	assert.Equal(t, int32(0), f.closed.Load())
}

func TestIndexRouting(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := serve(f, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, bananaScores, nil)

	rec := httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
