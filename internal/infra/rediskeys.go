package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "cato"
)

// Ключи (состояние и блокировки)
const (
	RedisKeyAnchorPrefix = RedisNamespace + ":anchor:" // + tenant:tileIndex -> root hash (SETNX)
	RedisKeyLockAnchor   = RedisNamespace + ":lock:anchor" // сериализация tile-sweep между инстансами
)

// Каналы Pub/Sub (события)
const (
	// RedisChanVetoSignals — сигналы внешних сенсоров (raiseVeto), JSON VetoSignal.
	RedisChanVetoSignals = RedisNamespace + ":veto:signals"
	// RedisChanBarrierUpdate — инвалидация снапшота барьеров после админских правок.
	RedisChanBarrierUpdate = RedisNamespace + ":barriers:update"
	// RedisChanEscalationDecisions — трансляция решений ревьюера (HITL).
	RedisChanEscalationDecisions = RedisNamespace + ":escalations:decisions"
)

// GetAnchorKey Генератор ключей якорей плиток
func GetAnchorKey(tenantID string, tileIndex int64) string {
	return fmt.Sprintf("%s%s:%d", RedisKeyAnchorPrefix, tenantID, tileIndex)
}
