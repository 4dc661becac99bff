package engines

import (
	"context"
	"time"

	"github.com/sua-org/cam-icu/internal/core"
)

// VehicleEngine lê a placa de um snapshot de veículo.
//
// Retorno:
//   - nil, nil      => nenhuma placa legível
//   - *PlateResult  => placa como o provider devolveu (o dispatcher normaliza)
//   - error         => falha do provider (o dispatcher loga e segue)
//
// Engines não publicam no MQTT nem gravam imagem: quem faz isso é o Dispatcher.
type VehicleEngine interface {
	Name() string
	Recognize(ctx context.Context, cameraID string, occurredAt time.Time, image []byte) (*core.PlateResult, error)
}

// PersonEngine descreve os rostos de um snapshot de pessoa.
type PersonEngine interface {
	Name() string
	Analyze(ctx context.Context, image []byte) ([]core.FaceDetail, error)
}
