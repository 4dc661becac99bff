package engines

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/config"
)

// Build monta o Dispatcher com as engines habilitadas na configuração
// (usePR, useOpenALPR, useAWSRekognition).
func Build(ctx context.Context, cfg config.Config, opts Options) (*Dispatcher, error) {
	var vehicles []VehicleEngine
	var persons []PersonEngine

	if cfg.UsePlateRecognizer {
		vehicles = append(vehicles, NewPlateRecognizer(cfg.PlateRecognizerURL, cfg.PlateRecognizerToken, cfg.PlateRecognizerRPS))
	}
	if cfg.UseOpenALPR {
		vehicles = append(vehicles, NewOpenALPR(cfg.OpenALPRURL, cfg.OpenALPRSecret, cfg.Country))
	}
	if cfg.UseRekognition {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("erro carregando credenciais AWS: %w", err)
		}
		persons = append(persons, NewRekognition(awsCfg))
	}

	if opts.Timeout <= 0 {
		opts.Timeout = cfg.EngineTimeout
	}
	if opts.ResultsTopic == "" {
		opts.ResultsTopic = cfg.ResultsTopic
	}

	d := NewDispatcher(vehicles, persons, opts)
	if names := d.Names(); len(names) > 0 {
		log.Info().Str("component", "engines").Msgf("habilitadas: %s", strings.Join(names, ","))
	} else {
		log.Warn().Str("component", "engines").Msg("nenhuma engine habilitada")
	}
	return d, nil
}
