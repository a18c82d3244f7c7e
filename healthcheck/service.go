package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

func New() *Service {
	return &Service{
		startTime: time.Now(),
		nowFunc:   time.Now,
	}
}

type Service struct {
	startTime time.Time
	nowFunc   func() time.Time
}

func (s Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealthCheck)
}

func (s Service) handleHealthCheck(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(map[string]string{
		"status": "up",
		"uptime": s.nowFunc().Sub(s.startTime).Truncate(time.Second).String(),
	})
}
