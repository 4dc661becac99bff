// internal/snapshot/policy.go
package snapshot

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sua-org/cam-icu/internal/config"
)

// Policy define os limites dos dois estágios da aquisição.
// Os backoffs são fábricas porque cada aquisição precisa do seu próprio estado.
type Policy struct {
	// Estágio A: gerar a URL do snapshot
	ResolveAttempts int
	ResolveBackoff  func() backoff.BackOff

	// Espera fixa entre URL gerada e primeiro GET. Valor empírico do dashboard,
	// não é garantia documentada (varia com firmware).
	ReadyDelay time.Duration

	// Estágio B: baixar a imagem (só 404 é repetido)
	FetchAttempts int
	FetchBackoff  func() backoff.BackOff
}

// DefaultPolicy: 10 tentativas com espera aleatória em [1s, 31s), 5s de espera,
// 30 tentativas de GET a cada 2s.
func DefaultPolicy() Policy {
	return Policy{
		ResolveAttempts: 10,
		ResolveBackoff: func() backoff.BackOff {
			return NewUniformBackOff(time.Second, 31*time.Second)
		},
		ReadyDelay:    5 * time.Second,
		FetchAttempts: 30,
		FetchBackoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(2 * time.Second)
		},
	}
}

// WithDefaults preenche campos zerados com os valores de DefaultPolicy.
// ReadyDelay zero é respeitado.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.ResolveAttempts <= 0 {
		p.ResolveAttempts = def.ResolveAttempts
	}
	if p.ResolveBackoff == nil {
		p.ResolveBackoff = def.ResolveBackoff
	}
	if p.FetchAttempts <= 0 {
		p.FetchAttempts = def.FetchAttempts
	}
	if p.FetchBackoff == nil {
		p.FetchBackoff = def.FetchBackoff
	}
	return p
}

// PolicyFromConfig aplica as variáveis SNAPSHOT_* sobre DefaultPolicy.
// O backoff do estágio A continua o uniforme padrão.
func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	if cfg.ResolveAttempts > 0 {
		p.ResolveAttempts = cfg.ResolveAttempts
	}
	if cfg.FetchAttempts > 0 {
		p.FetchAttempts = cfg.FetchAttempts
	}
	if cfg.ReadyDelay >= 0 {
		p.ReadyDelay = cfg.ReadyDelay
	}
	if retry := cfg.FetchRetryDelay; retry > 0 {
		p.FetchBackoff = func() backoff.BackOff { return backoff.NewConstantBackOff(retry) }
	}
	return p
}

// UniformBackOff sorteia cada espera uniformemente em [Min, Max).
type UniformBackOff struct {
	Min time.Duration
	Max time.Duration
}

func NewUniformBackOff(lo, hi time.Duration) *UniformBackOff {
	return &UniformBackOff{Min: lo, Max: hi}
}

func (u *UniformBackOff) NextBackOff() time.Duration {
	if u.Max <= u.Min {
		return u.Min
	}
	return u.Min + rand.N(u.Max-u.Min)
}

func (u *UniformBackOff) Reset() {}
