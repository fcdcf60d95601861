package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter 注册 /api/v1 下的全部路由
func NewRouter(
	exposures *ExposureHandler,
	alerts *AlertHandler,
	analysis *AnalysisHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/exposures", func(r chi.Router) {
			r.Get("/", exposures.ListExposures)
			r.Post("/", exposures.CreateExposure)
			r.Get("/export", exposures.ExportExposures)
			r.Get("/{exposureID}", exposures.GetExposure)
			r.Get("/{exposureID}/measurements", exposures.GetMeasurementHistory)
			r.Post("/{exposureID}/measurements", exposures.AppendMeasurement)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", alerts.ListAlerts)
			r.Post("/", alerts.RaiseAlert)
			r.Get("/{alertID}", alerts.GetAlert)
			r.Post("/{alertID}/acknowledge", alerts.AcknowledgeAlert)
			r.Post("/{alertID}/resolve", alerts.ResolveAlert)
		})

		r.Get("/analysis/trends", analysis.AnalyzeTrends)
		r.Get("/recommendations", analysis.ListRecommendations)
		r.Post("/recommendations/{recommendationID}/decision", analysis.DecideRecommendation)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
