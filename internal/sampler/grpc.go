package sampler

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Полное имя метода inference-сервиса. Сервис принимает/возвращает
// google.protobuf.Struct, поэтому клиенту не нужны сгенерированные стабы:
// достаточно generic Invoke поверх соединения.
const sampleMethod = "/cato.inference.v1.EntropySampler/Sample"

type GRPCSampler struct {
	conn *grpc.ClientConn
}

// NewGRPCSampler создает адаптер поверх готового соединения
func NewGRPCSampler(conn *grpc.ClientConn) *GRPCSampler {
	return &GRPCSampler{conn: conn}
}

// Sample реализует интерфейс Sampler
func (s *GRPCSampler) Sample(ctx context.Context, prompt string, n int) ([]string, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"prompt":  prompt,
		"samples": n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request struct: %w", err)
	}

	// Защитный таймаут на уровне вызова: даже если обертка надежности
	// имеет свой, адаптер должен иметь свой предел
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, sampleMethod, req, resp); err != nil {
		return nil, fmt.Errorf("sampler call failed: %w", err)
	}

	raw, ok := resp.AsMap()["generations"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("sampler response missing generations")
	}

	out := make([]string, 0, len(raw))
	for _, g := range raw {
		if str, ok := g.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}
