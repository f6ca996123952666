package sampler

import "context"

// Sampler — контракт внешнего inference-сервиса для энтропийной проверки:
// n независимых генераций по одному prompt. Как именно модель генерирует —
// вне зоны ответственности пайплайна.
type Sampler interface {
	Sample(ctx context.Context, prompt string, n int) ([]string, error)
}
