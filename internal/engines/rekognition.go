package engines

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/sua-org/cam-icu/internal/core"
)

// FaceDetector é o subconjunto do cliente Rekognition que usamos.
type FaceDetector interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// RekognitionEngine pede ao AWS Rekognition gênero, idade e emoções dos rostos.
type RekognitionEngine struct {
	client FaceDetector
}

func NewRekognition(cfg aws.Config) *RekognitionEngine {
	return &RekognitionEngine{client: rekognition.NewFromConfig(cfg)}
}

func NewRekognitionWithClient(client FaceDetector) *RekognitionEngine {
	return &RekognitionEngine{client: client}
}

func (e *RekognitionEngine) Name() string { return "rekognition" }

func (e *RekognitionEngine) Analyze(ctx context.Context, image []byte) ([]core.FaceDetail, error) {
	out, err := e.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("rekognition DetectFaces: %w", err)
	}

	faces := make([]core.FaceDetail, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		var f core.FaceDetail
		if fd.Gender != nil {
			f.Gender = core.Gender{
				Value:      string(fd.Gender.Value),
				Confidence: float64(aws.ToFloat32(fd.Gender.Confidence)),
			}
		}
		if fd.AgeRange != nil {
			f.AgeRange = core.AgeRange{
				Low:  aws.ToInt32(fd.AgeRange.Low),
				High: aws.ToInt32(fd.AgeRange.High),
			}
		}
		for _, em := range fd.Emotions {
			f.Emotions = append(f.Emotions, core.Emotion{
				Type:       string(em.Type),
				Confidence: float64(aws.ToFloat32(em.Confidence)),
			})
		}
		faces = append(faces, f)
	}
	return faces, nil
}
