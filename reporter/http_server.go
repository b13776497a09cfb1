// This is the http surface of the orchestrator.
// It publishes swap orders from the statedb, accepts off-chain order
// submissions and forwards resolver bids to the bid engine.

package reporter

import (
	"math/big"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/bidengine"
	"github.com/fusionswap/orchestrator-go/state"
)

const (
	ROUTE_ORDER       = "/order"
	ROUTE_ORDER_BY_ID = "/order/:id"
	ROUTE_OPEN_ORDERS = "/orders/open"
	ROUTE_BID         = "/bid"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	statedb *state.StateDB
	engine  *bidengine.Engine
	sink    agreement.EventSink
}

func NewHttpReporter(
	serverIP string,
	serverPort string,
	statedb *state.StateDB,
	engine *bidengine.Engine,
	sink agreement.EventSink,
) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		statedb:    statedb,
		engine:     engine,
		sink:       sink,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.POST(ROUTE_ORDER, h.SubmitOrder)
	router.GET(ROUTE_ORDER_BY_ID, h.GetOrder)
	router.GET(ROUTE_OPEN_ORDERS, h.OpenOrders)
	router.POST(ROUTE_BID, h.SubmitBid)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// SubmitOrder injects an escrow announcement into the event path, for
// initiators that report their source lock off-chain ahead of the
// watcher seeing it. Returns the order id the escrow will map to.
func (h *HttpReporter) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a decimal integer"})
		return
	}
	hashlock := ethcommon.HexToHash(req.Hashlock)

	h.sink.GetEscrowCreatedEventChannel() <- &agreement.EscrowCreatedEvent{
		Chain:     agreement.ChainTag(req.Chain),
		LockId:    req.LockId,
		Hashlock:  hashlock,
		Amount:    amount,
		Timelock:  req.Timelock,
		Recipient: req.Recipient,
	}

	orderId := state.ComputeOrderId(agreement.ChainTag(req.Chain), req.LockId, hashlock)
	c.JSON(http.StatusAccepted, gin.H{"orderId": orderId.Hex()})
}

// Fetch one order from the statedb
// Publish on the route
func (h *HttpReporter) GetOrder(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be provided"})
		return
	}

	o, found, err := h.statedb.GetOrder(ethcommon.HexToHash(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no order found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": NewOrderView(o)})
}

func (h *HttpReporter) OpenOrders(c *gin.Context) {
	var views []*OrderView
	for _, orderId := range h.engine.ListOpenOrders() {
		o, found, err := h.statedb.GetOrder(orderId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if found {
			views = append(views, NewOrderView(o))
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *HttpReporter) SubmitBid(c *gin.Context) {
	var req SubmitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input, ok := new(big.Int).SetString(req.InputAmount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inputAmount is not a decimal integer"})
		return
	}
	output, ok := new(big.Int).SetString(req.OutputAmount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outputAmount is not a decimal integer"})
		return
	}
	gas, ok := new(big.Int).SetString(req.GasEstimate, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gasEstimate is not a decimal integer"})
		return
	}

	bid, err := h.engine.SubmitBid(ethcommon.HexToHash(req.OrderId), req.Resolver, input, output, gas)
	if err != nil {
		c.JSON(bidErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bidId": bid.BidId.String(), "net": bid.Net().String()})
}

func bidErrorStatus(err error) int {
	switch err {
	case bidengine.ErrUnauthorized:
		return http.StatusForbidden
	case bidengine.ErrOrderNotOpen:
		return http.StatusNotFound
	case bidengine.ErrBiddingClosed:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
