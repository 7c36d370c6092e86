package cluster

import (
	"context"
	"sync"
)

// SimCluster implementação simulada da plataforma: mantém o contador de
// réplicas em memória e aponta os endpoints de métricas para o serviço alvo
// local. Permite rodar o experimento inteiro sem cluster.
type SimCluster struct {
	mu        sync.Mutex
	replicas  int32
	endpoints []string

	// FailNextApplies faz os próximos N SetReplicas falharem (para testes
	// e ensaio do caminho de retry)
	FailNextApplies int
	failErr         error
}

// NewSimCluster cria cluster simulado com contagem inicial de réplicas
func NewSimCluster(initialReplicas int32, metricsEndpoints []string) *SimCluster {
	return &SimCluster{
		replicas:  initialReplicas,
		endpoints: metricsEndpoints,
	}
}

func (s *SimCluster) CurrentReplicas(ctx context.Context, deployment string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicas, nil
}

func (s *SimCluster) SetReplicas(ctx context.Context, deployment string, replicas int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextApplies > 0 {
		s.FailNextApplies--
		return s.failErr
	}

	s.replicas = replicas
	return nil
}

func (s *SimCluster) MetricsEndpoints(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints, nil
}

// SetFailure configura o erro retornado enquanto FailNextApplies > 0
func (s *SimCluster) SetFailure(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNextApplies = n
	s.failErr = err
}
