package sampler

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"time"
)

// MockSampler имитирует inference-сервис для локальной разработки и демо
type MockSampler struct{}

func (c *MockSampler) Sample(ctx context.Context, prompt string, n int) ([]string, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if prompt == "" {
		return nil, fmt.Errorf("empty prompt")
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		// Стабильные генерации => высокая семантическая согласованность
		out = append(out, fmt.Sprintf("consistent answer about %q", prompt))
	}
	return out, nil
}
