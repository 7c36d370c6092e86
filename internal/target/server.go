package target

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// latencyWindow quantas latências recentes entram na média do /metrics
const latencyWindow = 50

// Server serviço alvo simulado: responde /compute com trabalho sintético e
// expõe /metrics no formato que o collector consome. Serve para rodar o
// experimento inteiro sem GPU nem cluster.
type Server struct {
	router *gin.Engine
	port   int

	inflight atomic.Int64

	latMu     sync.Mutex
	latencies []float64

	srv *http.Server
}

// NewServer cria o serviço alvo na porta dada
func NewServer(port int, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// gin.New() para controle manual dos middlewares
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		router:    router,
		port:      port,
		latencies: make([]float64, 0, latencyWindow),
	}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/compute", s.handleCompute)

	return s
}

// Run sobe o servidor e bloqueia até o contexto encerrar
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("Target service listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("target service failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info().Msg("Target service shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics reporta o snapshot corrente no formato do collector.
// GPU sintética: utilização derivada da pressão de requests em voo.
func (s *Server) handleMetrics(c *gin.Context) {
	inflight := float64(s.inflight.Load())

	s.latMu.Lock()
	avgLat := 0.0
	if len(s.latencies) > 0 {
		sum := 0.0
		for _, l := range s.latencies {
			sum += l
		}
		avgLat = sum / float64(len(s.latencies))
	}
	s.latMu.Unlock()

	// Saturação sintética: ~8% de GPU por request em voo, teto em 100
	gpuUtil := math.Min(100, inflight*8)
	gpuMem := 512 + gpuUtil*40 // MB, cresce com a utilização
	cpuUtil := math.Min(100, inflight*5)
	gpuTemp := 40 + gpuUtil*0.4

	c.JSON(http.StatusOK, gin.H{
		"gpu_util_percent":    gpuUtil,
		"gpu_mem_mb":          gpuMem,
		"gpu_temperature":     gpuTemp,
		"cpu_util_percent":    cpuUtil,
		"latency_ms":          avgLat,
		"concurrent_requests": inflight,
	})
}

// handleCompute queima tempo proporcional ao size e à concorrência corrente,
// imitando uma inferência que degrada sob contenção
func (s *Server) handleCompute(c *gin.Context) {
	size, err := strconv.Atoi(c.DefaultQuery("size", "1000"))
	if err != nil || size < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
		return
	}

	inflight := s.inflight.Add(1)
	defer s.inflight.Add(-1)

	start := time.Now()

	// Base proporcional ao size, penalidade por contenção
	base := time.Duration(size/100) * time.Millisecond
	contention := time.Duration(inflight*5) * time.Millisecond

	select {
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
		return
	case <-time.After(base + contention):
	}

	elapsedMS := float64(time.Since(start).Milliseconds())
	s.recordLatency(elapsedMS)

	c.JSON(http.StatusOK, gin.H{
		"size":       size,
		"latency_ms": elapsedMS,
	})
}

func (s *Server) recordLatency(ms float64) {
	s.latMu.Lock()
	defer s.latMu.Unlock()

	s.latencies = append(s.latencies, ms)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}
