package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"auxite-wallet/internal/allocation"
	"auxite-wallet/internal/fetcher"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/plot"
	"auxite-wallet/internal/trade"
	"auxite-wallet/internal/wallet"
)

const (
	defaultTickLimit = 50
	maxTickLimit     = 1000
	maxSparkSide     = 2000
)

type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
}

type allocationRequest struct {
	Address string `json:"address"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// prices answers in the polling endpoint format so one instance can feed another.
func (s *Server) prices(c *gin.Context) {
	snap := s.deps.Feed.Snapshot()
	out := make([]fetcher.PriceRow, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		diff, pct := market.Change(row)
		pr := fetcher.PriceRow{
			Symbol:    row.Symbol.String(),
			Price:     row.Price,
			Change:    market.Round3(diff),
			ChangePct: pct,
			Series:    snap.History[row.Symbol],
		}
		if row.Bid != nil {
			pr.Bid = *row.Bid
		}
		out = append(out, pr)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Feed.Snapshot())
}

func (s *Server) token(c *gin.Context) {
	sym, ok := parseSymbolParam(c)
	if !ok {
		return
	}
	snap := s.deps.Feed.Snapshot()
	row, ok := findRow(snap.Rows, sym)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not tracked"})
		return
	}
	c.JSON(http.StatusOK, market.NewCard(row, snap.History[sym], snap.Status[sym].Stale))
}

func (s *Server) sparkline(c *gin.Context) {
	sym, ok := parseSymbolParam(c)
	if !ok {
		return
	}
	width := intQuery(c, "width", plot.DefaultSparkWidth, maxSparkSide)
	height := intQuery(c, "height", plot.DefaultSparkHeight, maxSparkSide)

	history := s.deps.Feed.Snapshot().History[sym]
	var buf bytes.Buffer
	if err := plot.Sparkline(&buf, sym, history, width, height); err != nil {
		s.logger.Error().Err(err).Str("symbol", sym.String()).Msg("render sparkline")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) ticks(c *gin.Context) {
	sym, ok := parseSymbolParam(c)
	if !ok {
		return
	}
	if s.deps.Ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tick storage not configured"})
		return
	}
	limit := intQuery(c, "limit", defaultTickLimit, maxTickLimit)
	ticks, err := s.deps.Ticks.ListRecentTicks(c.Request.Context(), sym, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", sym.String()).Msg("list recent ticks")
		c.JSON(http.StatusBadGateway, gin.H{"error": "tick storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, ticks)
}

func (s *Server) estimate(c *gin.Context) {
	quote, ok := s.quote(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) confirm(c *gin.Context) {
	quote, ok := s.quote(c)
	if !ok {
		return
	}
	err := trade.Confirm(quote)
	switch {
	case errors.Is(err, trade.ErrSettlementUnavailable):
		s.logger.Info().Str("quote_id", quote.ID).Str("symbol", quote.Symbol.String()).Msg("demo trade confirm refused")
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "demo only: trades are not executed",
			"quoteId": quote.ID,
			"quote":   quote,
		})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "quote": quote})
	default:
		c.JSON(http.StatusOK, quote)
	}
}

func (s *Server) quote(c *gin.Context) (trade.Quote, bool) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return trade.Quote{}, false
	}
	sym, err := market.ParseSymbol(req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return trade.Quote{}, false
	}
	side, err := trade.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return trade.Quote{}, false
	}
	row, ok := findRow(s.deps.Feed.Snapshot().Rows, sym)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not tracked"})
		return trade.Quote{}, false
	}
	return trade.NewQuote(row, side, req.Quantity), true
}

func (s *Server) checkAllocation(c *gin.Context) {
	var req allocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.deps.Allocation.Check(req.Address)
	if errors.Is(err, allocation.ErrInvalidAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) balances(c *gin.Context) {
	if s.deps.Balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token balances not configured"})
		return
	}
	rows, err := s.deps.Balances.Balances(c.Request.Context(), c.Param("address"))
	if errors.Is(err, oracle.ErrInvalidAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("read token balances")
		c.JSON(http.StatusBadGateway, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "balances": rows})
}

func (s *Server) walletInfo(c *gin.Context) {
	if s.deps.Wallet == nil {
		c.JSON(http.StatusOK, wallet.Info{Chains: []wallet.Chain{}})
		return
	}
	c.JSON(http.StatusOK, wallet.Describe(s.deps.Wallet))
}

func (s *Server) info(c *gin.Context) {
	if s.deps.Info == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "info upstream not configured"})
		return
	}
	body, err := s.deps.Info.FetchInfo(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch upstream info")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func parseSymbolParam(c *gin.Context) (market.Symbol, bool) {
	sym, err := market.ParseSymbol(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return sym, true
}

func findRow(rows []market.TokenRow, sym market.Symbol) (market.TokenRow, bool) {
	for _, row := range rows {
		if row.Symbol == sym {
			return row, true
		}
	}
	return market.TokenRow{}, false
}

func intQuery(c *gin.Context, key string, fallback, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
