package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
	"github.com/uhyunpark/spotdex/pkg/app/dex"
)

const maxTxBytes = 64 << 10

// Mempool is where submitted transactions wait for the next block.
type Mempool interface {
	PushRaw(b []byte)
	Len() int
}

type Config struct {
	Dex     *dex.Dex
	Mempool Mempool
	// Faucet enables POST /api/v1/faucet when set (devnet only).
	Faucet         *token.MemChain
	AllowedOrigins []string
	// Hub is created by NewServer when nil. Pass one in when the exchange
	// must be wired to it as an event sink before the server exists.
	Hub    *Hub
	Logger *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	dex     *dex.Dex
	mempool Mempool
	faucet  *token.MemChain
	origins []string
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	http    *http.Server
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		dex:     cfg.Dex,
		mempool: cfg.Mempool,
		faucet:  cfg.Faucet,
		origins: origins,
		router:  mux.NewRouter(),
		hub:     hub,
		log:     log,
	}
	s.setupRoutes()
	return s
}

// Hub is the event sink feeding WebSocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Token endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{ticker}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/tokens/{ticker}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/tokens/{ticker}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances/{ticker}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	if s.faucet != nil {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	quote := s.dex.Quote()
	toks := s.dex.Tokens()
	response := make([]TokenInfo, len(toks))
	for i, t := range toks {
		response[i] = toTokenInfo(t, quote)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	ticker := token.Ticker(mux.Vars(r)["ticker"])

	side, err := orderbook.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	orders, err := s.dex.GetOrders(ticker, side)
	if err != nil {
		respondDexError(w, err)
		return
	}

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	ticker := token.Ticker(mux.Vars(r)["ticker"])

	bids, err := s.dex.Levels(ticker, orderbook.Buy)
	if err != nil {
		respondDexError(w, err)
		return
	}
	asks, err := s.dex.Levels(ticker, orderbook.Sell)
	if err != nil {
		respondDexError(w, err)
		return
	}
	respondJSON(w, BookSnapshot{
		Ticker: string(ticker),
		Bids:   toPriceLevels(bids),
		Asks:   toPriceLevels(asks),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker := token.Ticker(mux.Vars(r)["ticker"])

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, 1000)
	}

	trades, err := s.dex.Trades(ticker, limit)
	if err != nil {
		respondDexError(w, err)
		return
	}
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = toTradeInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(vars["address"])
	ticker := token.Ticker(vars["ticker"])

	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Ticker:  string(ticker),
		Balance: s.dex.TraderBalance(addr, ticker).Dec(),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addrStr)
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: s.dex.Nonce(addr)})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st := s.dex.Status()
	respondJSON(w, ChainStatus{
		Height:      st.Height,
		AppHash:     st.AppHash.Hex(),
		NextOrderID: st.NextOrderID,
		NextTradeID: st.NextTradeID,
		MempoolSize: s.mempool.Len(),
		Custody:     s.dex.Custody().Hex(),
	})
}

// handleSubmitTx checks the envelope and signature, then queues the raw
// bytes. Balance and nonce checks happen when the block executes.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	action, err := s.dex.Verifier().Verify(tx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid signature", err.Error())
		return
	}

	s.mempool.PushRaw(body)
	hash := ethcrypto.Keccak256Hash(body)
	s.log.Infow("tx_submitted",
		"tx", hash.Hex(),
		"type", tx.Type,
		"owner", action.Owner.Hex(),
		"nonce", action.Nonce,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "submitted", Hash: hash.Hex()})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTxBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil || amount.IsZero() {
		respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
		return
	}
	var tok token.Token
	for _, t := range s.dex.Tokens() {
		if strings.EqualFold(string(t.Ticker), req.Ticker) {
			tok = t
		}
	}
	mt := s.faucet.Token(tok.Address)
	if tok.Ticker == "" || mt == nil {
		respondError(w, http.StatusNotFound, "token not found", req.Ticker)
		return
	}

	addr := common.HexToAddress(req.Address)
	custody := s.dex.Custody()
	mt.Faucet(addr, amount)
	allowance := new(uint256.Int).Add(mt.Allowance(addr, custody), amount)
	if err := mt.Approve(addr, custody, allowance); err != nil {
		respondError(w, http.StatusInternalServerError, "approve failed", err.Error())
		return
	}
	s.log.Infow("faucet", "address", addr.Hex(), "ticker", tok.Ticker, "amount", amount.Dec())

	respondJSON(w, FaucetResponse{
		Address:   addr.Hex(),
		Ticker:    string(tok.Ticker),
		Balance:   mt.BalanceOf(addr).Dec(),
		Allowance: allowance.Dec(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondDexError(w http.ResponseWriter, err error) {
	if errors.Is(err, token.ErrUnknownToken) {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error", err.Error())
}
