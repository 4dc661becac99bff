package engines

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlateRecognizer_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Token tkn", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "CAM1", r.FormValue("camera_id"))
		assert.Equal(t, "2019-11-01T00:23:55.571Z", r.FormValue("timestamp"))

		f, hdr, err := r.FormFile("upload")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "vehicle.jpg", hdr.Filename)
		b, _ := io.ReadAll(f)
		assert.Equal(t, []byte("jpeg"), b)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"plate":"abc123","score":0.904}]}`))
	}))
	defer srv.Close()

	e := NewPlateRecognizer(srv.URL, "tkn", 100)
	res, err := e.Recognize(context.Background(), "CAM1", occurred, []byte("jpeg"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "abc123", res.Plate)
	assert.InDelta(t, 0.904, res.Confidence, 1e-9)
}

func TestPlateRecognizer_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	res, err := NewPlateRecognizer(srv.URL, "tkn", 100).Recognize(context.Background(), "CAM1", occurred, []byte("jpeg"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPlateRecognizer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
	}))
	defer srv.Close()

	_, err := NewPlateRecognizer(srv.URL, "bad", 100).Recognize(context.Background(), "CAM1", occurred, []byte("jpeg"))
	assert.ErrorContains(t, err, "status 403")
}

func TestOpenALPR_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "0", q.Get("recognize_vehicle"))
		assert.Equal(t, "nz", q.Get("country"))
		assert.Equal(t, "1", q.Get("topn"))
		assert.Equal(t, "s3cr3t", q.Get("secret_key"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), string(body))

		_, _ = w.Write([]byte(`{"results":[{"plate":"XYZ789","confidence":91.5}]}`))
	}))
	defer srv.Close()

	res, err := NewOpenALPR(srv.URL, "s3cr3t", "nz").Recognize(context.Background(), "CAM1", time.Time{}, []byte("jpeg"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "XYZ789", res.Plate)
}

func TestOpenALPR_ErrorDoesNotLeakSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewOpenALPR(srv.URL, "s3cr3t", "nz").Recognize(context.Background(), "CAM1", time.Time{}, []byte("jpeg"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cr3t")
}

type fakeDetector struct {
	input *rekognition.DetectFacesInput
	out   *rekognition.DetectFacesOutput
}

func (f *fakeDetector) DetectFaces(_ context.Context, in *rekognition.DetectFacesInput, _ ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	f.input = in
	return f.out, nil
}

func TestRekognition_Analyze(t *testing.T) {
	det := &fakeDetector{out: &rekognition.DetectFacesOutput{
		FaceDetails: []types.FaceDetail{{
			Gender:   &types.Gender{Value: types.GenderTypeFemale, Confidence: aws.Float32(98.5)},
			AgeRange: &types.AgeRange{Low: aws.Int32(22), High: aws.Int32(34)},
			Emotions: []types.Emotion{
				{Type: types.EmotionNameHappy, Confidence: aws.Float32(92)},
				{Type: types.EmotionNameCalm, Confidence: aws.Float32(4)},
			},
		}},
	}}

	faces, err := NewRekognitionWithClient(det).Analyze(context.Background(), []byte("jpeg"))
	require.NoError(t, err)

	assert.Equal(t, []byte("jpeg"), det.input.Image.Bytes)
	assert.Equal(t, []types.Attribute{types.AttributeAll}, det.input.Attributes)

	require.Len(t, faces, 1)
	assert.Equal(t, "Female", faces[0].Gender.Value)
	assert.Equal(t, int32(22), faces[0].AgeRange.Low)
	assert.Equal(t, int32(34), faces[0].AgeRange.High)
	require.Len(t, faces[0].Emotions, 2)
	assert.Equal(t, "HAPPY", faces[0].Emotions[0].Type)
}
