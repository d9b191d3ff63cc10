// Package server exposes a fill engine bound to a ledger over HTTP, with a
// websocket feed of committed protocol events.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
)

const (
	// rpcTimeout bounds reading a request and writing its response.
	rpcTimeout = 10 * time.Second

	defaultPingPeriod = 30 * time.Second
	defaultFeedBuffer = 256
)

// Config is the configuration of a Server.
type Config struct {
	Addr   string
	Ledger *ledger.Ledger
	Engine *engine.Engine
	// WrappedNative is reported by /api/info.
	WrappedNative *ledger.WrappedNative
	// Tokens are the fungible tokens reported by /api/info and mintable
	// through /api/dev/fund.
	Tokens []*ledger.ERC20
	// DevMode enables the /api/dev routes.
	DevMode    bool
	PingPeriod time.Duration
	FeedBuffer int
}

// Server is the HTTP and websocket front of an engine.
type Server struct {
	cfg    Config
	ledger *ledger.Ledger
	engine *engine.Engine
	tokens map[common.Address]*ledger.ERC20
	mux    *chi.Mux
	srv    *http.Server

	wsMtx   sync.Mutex
	clients map[*wsClient]struct{}
}

// New creates a Server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Ledger == nil || cfg.Engine == nil {
		return nil, errors.New("ledger and engine are required")
	}
	s := &Server{
		cfg:     *cfg,
		ledger:  cfg.Ledger,
		engine:  cfg.Engine,
		tokens:  make(map[common.Address]*ledger.ERC20, len(cfg.Tokens)),
		clients: make(map[*wsClient]struct{}),
	}
	if s.cfg.PingPeriod <= 0 {
		s.cfg.PingPeriod = defaultPingPeriod
	}
	if s.cfg.FeedBuffer <= 0 {
		s.cfg.FeedBuffer = defaultFeedBuffer
	}
	for _, t := range cfg.Tokens {
		s.tokens[t.Address] = t
	}
	if w := cfg.WrappedNative; w != nil {
		s.tokens[w.Address] = w.ERC20
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger)

	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Get("/info", s.apiInfo)
		r.Get("/balance/{address}", s.apiBalance)
		r.Get("/balance/{address}/{token}", s.apiBalance)

		r.Post("/orders/hash", s.apiHashOrder)
		r.Post("/orders/verify", s.apiVerifyOrder)
		r.Get("/remaining/{maker}/{hash}", s.apiRemaining)
		r.Get("/bitmap/{maker}/{slot}", s.apiBitmap)

		r.Post("/fill", s.apiFill)
		r.Post("/fill/simulate", s.apiSimulateFill)
		r.Post("/cancel", s.apiCancel)
		r.Post("/cancel/bits", s.apiBitsInvalidate)

		r.Route("/rfq", func(r chi.Router) {
			r.Post("/hash", s.apiHashOrderRFQ)
			r.Post("/fill", s.apiFillRFQ)
			r.Post("/cancel", s.apiCancelRFQ)
			r.Get("/bitmap/{maker}/{slot}", s.apiBitmapRFQ)
		})

		r.Post("/epoch/increase", s.apiIncreaseEpoch)
		r.Post("/epoch/advance", s.apiAdvanceEpoch)
		r.Get("/epoch/{maker}/{series}", s.apiEpoch)

		r.Post("/call", s.apiCall)
		r.Post("/static-call", s.apiStaticCall)
		r.Post("/simulate", s.apiSimulate)

		if cfg.DevMode {
			r.Route("/dev", func(r chi.Router) {
				r.Post("/warp", s.apiWarp)
				r.Post("/fund", s.apiFund)
			})
		}
	})
	mux.Get("/ws", s.handleWS)

	s.mux = mux
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  rpcTimeout,
		WriteTimeout: rpcTimeout,
	}
	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.closeClients()
		if err := s.srv.Shutdown(context.Background()); err != nil {
			log.Errorf("HTTP server Shutdown: %v", err)
		}
	}()

	log.Infof("Server listening on %s", listener.Addr())
	err = s.srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	} else {
		log.Warnf("Unexpected (http.Server).Serve error: %v", err)
	}
	wg.Wait()
	log.Infof("Server off")
	return err
}

// requestLogger logs each request at debug level with its duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debugf("%s %s from %s: %d in %v", r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start))
	})
}
