package governor

import (
	"fmt"
	"math"
)

// DecayFunc — стратегия отображения неопределенности в множитель гаммы.
// Исходный дизайн не фиксирует конкретную формулу, поэтому она подключаемая,
// а выбранная форма публикуется в GovernorResult.MathematicalBasis.
//
// Контракт: Factor монотонно не возрастает на [0,1], Factor(0) == 1.
type DecayFunc interface {
	Factor(scaledUncertainty float64) float64
	Basis() string
}

// LinearDecay: f(x) = 1 - x
type LinearDecay struct{}

func (LinearDecay) Factor(x float64) float64 {
	if x <= 0 {
		return 1
	}
	if x >= 1 {
		return 0
	}
	return 1 - x
}

func (LinearDecay) Basis() string {
	return "allowed_gamma = requested_gamma * (1 - u_scaled), linear decay"
}

// ExponentialDecay: f(x) = exp(-lambda*x). Дефолтная стратегия:
// мягче линейной вблизи порога, жестче — в хвосте.
type ExponentialDecay struct {
	Lambda float64
}

func (d ExponentialDecay) Factor(x float64) float64 {
	if x <= 0 {
		return 1
	}
	lambda := d.Lambda
	if lambda <= 0 {
		lambda = defaultLambda
	}
	return math.Exp(-lambda * x)
}

func (d ExponentialDecay) Basis() string {
	lambda := d.Lambda
	if lambda <= 0 {
		lambda = defaultLambda
	}
	return fmt.Sprintf("allowed_gamma = requested_gamma * exp(-%.2f * u_scaled), exponential decay", lambda)
}

const defaultLambda = 2.0
