package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeJSON marshals the provided interface and writes it to the response
// writer.
func writeJSON(w http.ResponseWriter, thing interface{}) {
	writeJSONWithStatus(w, thing, http.StatusOK)
}

// writeJSONWithStatus writes the JSON response with the specified HTTP
// response code.
func writeJSONWithStatus(w http.ResponseWriter, thing interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(thing); err != nil {
		log.Errorf("JSON encode error: %v", err)
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	writeJSON(w, &Response{Result: result})
}

// errorStatus maps an error to its HTTP status and engine error kind.
func errorStatus(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, ""
	}
	if kind, ok := engine.KindOf(err); ok {
		switch kind {
		case engine.ErrUnknownOrder:
			return http.StatusNotFound, string(kind)
		case engine.ErrAccessDenied, engine.ErrPrivateOrder:
			return http.StatusForbidden, string(kind)
		}
		return http.StatusUnprocessableEntity, string(kind)
	}
	switch {
	case errors.Is(err, ledger.ErrRevert), errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNoContract), errors.Is(err, ledger.ErrWriteProtection),
		errors.Is(err, ledger.ErrCallDepth):
		return http.StatusUnprocessableEntity, ""
	}
	return http.StatusInternalServerError, ""
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := errorStatus(err)
	if code == http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	} else {
		log.Debugf("Request rejected: %v", err)
	}
	writeJSONWithStatus(w, &Response{Code: code, Msg: err.Error(), Kind: kind}, code)
}

func decode(r *http.Request, thing interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(thing); err != nil {
		return badRequest("failed to decode request: %v", err)
	}
	return nil
}

func addressParam(r *http.Request, key string) (common.Address, error) {
	s := chi.URLParam(r, key)
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest("invalid %s address %q", key, s)
	}
	return common.HexToAddress(s), nil
}

func uint64Param(r *http.Request, key string) (uint64, error) {
	s := chi.URLParam(r, key)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", key, s)
	}
	return v, nil
}

// events decodes the engine's logs out of a committed transaction.
func (s *Server) events(logs []*types.Log) []*chain.Event {
	events := make([]*chain.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Address != s.engine.Address() {
			continue
		}
		ev, err := chain.ParseEvent(lg)
		if err != nil {
			if !errors.Is(err, chain.ErrUnknownEvent) {
				log.Warnf("Failed to decode log %d of block %d: %v", lg.Index, lg.BlockNumber, err)
			}
			continue
		}
		events = append(events, ev)
	}
	return events
}

// transact runs fn as a ledger transaction, returning the block it was
// committed in and the engine events it emitted.
func (s *Server) transact(fn func() error) (uint64, []*chain.Event, error) {
	logs, err := s.ledger.Transact(fn)
	if err != nil {
		return 0, nil, err
	}
	var block uint64
	if len(logs) > 0 {
		block = logs[0].BlockNumber
	} else {
		block = s.ledger.BlockNumber()
	}
	return block, s.events(logs), nil
}

// apiInfo is the handler for the '/info' API request.
func (s *Server) apiInfo(w http.ResponseWriter, r *http.Request) {
	chainID, _ := s.ledger.ChainID(r.Context())
	info := &Info{
		ChainID: chainID,
		Engine:  s.engine.Address(),
		Block:   s.ledger.BlockNumber(),
		Tokens:  make([]TokenInfo, 0, len(s.cfg.Tokens)+1),
		DevMode: s.cfg.DevMode,
	}
	info.Timestamp = s.ledger.Now()
	for _, t := range s.cfg.Tokens {
		info.Tokens = append(info.Tokens, TokenInfo{Address: t.Address, Name: t.Name, Decimals: t.Decimals})
	}
	if weth := s.cfg.WrappedNative; weth != nil {
		info.WrappedNative = weth.Address
		info.Tokens = append(info.Tokens, TokenInfo{Address: weth.Address, Name: weth.Name, Decimals: weth.Decimals})
	}
	writeResult(w, info)
}

// apiBalance is the handler for the '/balance/{address}' API request. With a
// token path element it reports the token balance through balanceOf.
func (s *Server) apiBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	res := &BalanceResult{Address: addr}
	if chi.URLParam(r, "token") == "" {
		_ = s.ledger.View(func() error {
			res.Balance = s.ledger.Balance(addr)
			return nil
		})
		writeResult(w, res)
		return
	}
	if res.Token, err = addressParam(r, "token"); err != nil {
		writeError(w, err)
		return
	}
	erc20 := chain.GetERC20ABI()
	data, err := erc20.Pack("balanceOf", addr)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.ledger.Simulate(func() error {
		ret, err := s.ledger.StaticCall(r.Context(), addr, res.Token, data)
		if err != nil {
			return err
		}
		vals, err := erc20.Unpack("balanceOf", ret)
		if err != nil {
			return fmt.Errorf("%w: bad balanceOf return: %v", ledger.ErrRevert, err)
		}
		res.Balance = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

// apiHashOrder is the handler for the '/orders/hash' API request.
func (s *Server) apiHashOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	hash, err := s.engine.HashOrder(req.Order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, &HashResult{OrderHash: hash})
}

// apiHashOrderRFQ is the handler for the '/rfq/hash' API request.
func (s *Server) apiHashOrderRFQ(w http.ResponseWriter, r *http.Request) {
	var req RFQOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	hash, err := s.engine.HashOrderRFQ(req.Order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, &HashResult{OrderHash: hash})
}

// apiVerifyOrder is the handler for the '/orders/verify' API request. It
// runs every read-only check of a fill for the given taker.
func (s *Server) apiVerifyOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	var hash common.Hash
	err := s.ledger.Simulate(func() error {
		var err error
		hash, err = s.engine.Verifier().VerifyOrder(r.Context(), req.Order, req.Signature, req.Taker)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, &HashResult{OrderHash: hash})
}

// apiRemaining is the handler for the '/remaining/{maker}/{hash}' API
// request.
func (s *Server) apiRemaining(w http.ResponseWriter, r *http.Request) {
	maker, err := addressParam(r, "maker")
	if err != nil {
		writeError(w, err)
		return
	}
	h := chi.URLParam(r, "hash")
	b, err := hexutil.Decode(h)
	if err != nil || len(b) != common.HashLength {
		writeError(w, badRequest("invalid order hash %q", h))
		return
	}
	res := &RemainingResult{OrderHash: common.BytesToHash(b)}
	err = s.ledger.View(func() error {
		res.Raw = s.engine.RawRemaining(maker, res.OrderHash)
		var err error
		res.Remaining, err = s.engine.Remaining(maker, res.OrderHash)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

// apiBitmap is the handler for the '/bitmap/{maker}/{slot}' API request.
func (s *Server) apiBitmap(w http.ResponseWriter, r *http.Request) {
	s.writeBitmap(w, r, s.engine.BitInvalidatorForOrder)
}

// apiBitmapRFQ is the handler for the '/rfq/bitmap/{maker}/{slot}' API
// request.
func (s *Server) apiBitmapRFQ(w http.ResponseWriter, r *http.Request) {
	s.writeBitmap(w, r, s.engine.InvalidatorForOrderRFQ)
}

func (s *Server) writeBitmap(w http.ResponseWriter, r *http.Request, word func(common.Address, uint64) *big.Int) {
	maker, err := addressParam(r, "maker")
	if err != nil {
		writeError(w, err)
		return
	}
	slot, err := uint64Param(r, "slot")
	if err != nil {
		writeError(w, err)
		return
	}
	res := &BitmapResult{Maker: maker, Slot: slot}
	_ = s.ledger.View(func() error {
		res.Word = word(maker, slot)
		return nil
	})
	writeResult(w, res)
}

// apiFill is the handler for the '/fill' API request.
func (s *Server) apiFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	res := &FillResult{}
	block, events, err := s.transact(func() error {
		var err error
		res.FillResult, err = s.engine.FillOrder(r.Context(), req.Taker, req.engine())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	res.Block, res.Events = block, events
	writeResult(w, res)
}

// apiSimulateFill is the handler for the '/fill/simulate' API request. The
// fill is run in full and then reverted.
func (s *Server) apiSimulateFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	res := &FillResult{}
	err := s.ledger.Simulate(func() error {
		var err error
		res.FillResult, err = s.engine.SimulateFill(r.Context(), req.Taker, req.engine())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, res)
}

// apiFillRFQ is the handler for the '/rfq/fill' API request.
func (s *Server) apiFillRFQ(w http.ResponseWriter, r *http.Request) {
	var req RFQFillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Order == nil {
		writeError(w, badRequest("no order"))
		return
	}
	res := &FillResult{}
	block, events, err := s.transact(func() error {
		var err error
		res.FillResult, err = s.engine.FillOrderRFQ(r.Context(), req.Taker, &engine.RFQFillRequest{
			Order:          req.Order,
			Signature:      req.Signature,
			Amount:         bigOf(req.Amount),
			AmountIsMaking: req.AmountIsMaking,
			Target:         req.Target,
			Interaction:    req.Interaction.engine(),
		})
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	res.Block, res.Events = block, events
	writeResult(w, res)
}

// apiCancel is the handler for the '/cancel' API request.
func (s *Server) apiCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.writeTx(w, func() error {
		if req.Order != nil {
			return s.engine.CancelOrder(r.Context(), req.Maker, req.Order)
		}
		return s.engine.CancelOrderByHash(r.Context(), req.Maker, req.MakerTraits, req.OrderHash)
	})
}

// apiBitsInvalidate is the handler for the '/cancel/bits' API request.
func (s *Server) apiBitsInvalidate(w http.ResponseWriter, r *http.Request) {
	var req BitsInvalidateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.writeTx(w, func() error {
		return s.engine.BitsInvalidateForOrder(r.Context(), req.Maker, req.MakerTraits, bigOf(req.AdditionalMask))
	})
}

// apiCancelRFQ is the handler for the '/rfq/cancel' API request.
func (s *Server) apiCancelRFQ(w http.ResponseWriter, r *http.Request) {
	var req RFQCancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.writeTx(w, func() error {
		return s.engine.CancelOrderRFQ(r.Context(), req.Maker, req.ID, bigOf(req.AdditionalMask))
	})
}

func (s *Server) writeTx(w http.ResponseWriter, fn func() error) {
	block, events, err := s.transact(fn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, &TxResult{Block: block, Events: events})
}

// apiIncreaseEpoch is the handler for the '/epoch/increase' API request.
func (s *Server) apiIncreaseEpoch(w http.ResponseWriter, r *http.Request) {
	var req EpochRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Amount = 1
	s.advanceEpoch(w, r, &req)
}

// apiAdvanceEpoch is the handler for the '/epoch/advance' API request.
func (s *Server) apiAdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	var req EpochRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.advanceEpoch(w, r, &req)
}

func (s *Server) advanceEpoch(w http.ResponseWriter, r *http.Request, req *EpochRequest) {
	res := &EpochResult{Maker: req.Maker, Series: req.Series}
	block, _, err := s.transact(func() error {
		var err error
		if req.Amount == 1 {
			res.Epoch, err = s.engine.IncreaseEpoch(r.Context(), req.Maker, req.Series)
		} else {
			res.Epoch, err = s.engine.AdvanceEpoch(r.Context(), req.Maker, req.Series, req.Amount)
		}
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	res.Block = block
	writeResult(w, res)
}

// apiEpoch is the handler for the '/epoch/{maker}/{series}' API request.
func (s *Server) apiEpoch(w http.ResponseWriter, r *http.Request) {
	maker, err := addressParam(r, "maker")
	if err != nil {
		writeError(w, err)
		return
	}
	series, err := uint64Param(r, "series")
	if err != nil {
		writeError(w, err)
		return
	}
	res := &EpochResult{Maker: maker, Series: series}
	_ = s.ledger.View(func() error {
		res.Epoch = s.engine.Epoch(maker, series)
		return nil
	})
	writeResult(w, res)
}

// apiCall is the handler for the '/call' API request. The call is committed
// as a transaction.
func (s *Server) apiCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var ret []byte
	block, events, err := s.transact(func() error {
		var err error
		ret, err = s.ledger.Call(r.Context(), req.message())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, &TxResult{Block: block, Return: ret, Events: events})
}

// apiStaticCall is the handler for the '/static-call' API request.
func (s *Server) apiStaticCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var ret hexutil.Bytes
	err := s.ledger.Simulate(func() error {
		var err error
		ret, err = s.ledger.StaticCall(r.Context(), req.From, req.To, req.Data)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, ret)
}

// apiSimulate is the handler for the '/simulate' API request. Each call's
// outcome is reported and nothing is committed.
func (s *Server) apiSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msgs := make([]*engine.Message, 0, len(req.Calls))
	for i, c := range req.Calls {
		if c == nil {
			writeError(w, badRequest("call %d is empty", i))
			return
		}
		msgs = append(msgs, c.message())
	}
	var results []engine.SimulationResult
	_ = s.ledger.Simulate(func() error {
		results = s.engine.Simulate(r.Context(), req.From, msgs)
		return nil
	})
	writeResult(w, results)
}

// apiWarp is the handler for the '/dev/warp' API request.
func (s *Server) apiWarp(w http.ResponseWriter, r *http.Request) {
	var req WarpRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.Warp(req.Timestamp); err != nil {
		writeError(w, err)
		return
	}
	log.Infof("Clock set to %d", req.Timestamp)
	writeResult(w, &req)
}

// apiFund is the handler for the '/dev/fund' API request. Wrapped native is
// funded by depositing freshly credited native value.
func (s *Server) apiFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount := bigOf(req.Amount)
	if amount == nil || amount.Sign() <= 0 {
		writeError(w, badRequest("amount must be positive"))
		return
	}
	var fn func() error
	switch weth := s.cfg.WrappedNative; {
	case req.Token == (common.Address{}):
		fn = func() error { return s.ledger.Fund(req.Address, amount) }
	case weth != nil && req.Token == weth.Address:
		fn = func() error {
			if err := s.ledger.Fund(req.Address, amount); err != nil {
				return err
			}
			_, err := s.ledger.Call(r.Context(), &engine.Message{From: req.Address, To: weth.Address, Value: amount})
			return err
		}
	default:
		token, found := s.tokens[req.Token]
		if !found {
			writeError(w, badRequest("unknown token %s", req.Token))
			return
		}
		fn = func() error { return token.Mint(s.ledger, req.Address, amount) }
	}
	s.writeTx(w, fn)
}
