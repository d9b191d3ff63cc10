// Example usage of the limit order SDK against a local lopd started with
// --dev.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	limitorder "github.com/kaifufi/limit-order-go"
	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/server"
)

var (
	usdc  = common.HexToAddress("0x10c0000000000000000000000000000000000001")
	dai   = common.HexToAddress("0x10c0000000000000000000000000000000000002")
	taker = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

func main() {
	key := os.Getenv("LOPD_MAKER_KEY")
	if key == "" {
		log.Fatal("Set LOPD_MAKER_KEY to a hex private key")
	}

	client, err := limitorder.NewClient(limitorder.ClientConfig{
		Host:       os.Getenv("LOPD_HOST"), // defaults to http://127.0.0.1:7545
		PrivateKey: key,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	info, err := client.CheckChain(ctx)
	if err != nil {
		log.Fatalf("Node mismatch: %v", err)
	}
	fmt.Printf("Engine %s on chain %s at block %d\n", info.Engine, info.ChainID, info.Block)

	// Follow fills while the example runs.
	ws := client.NewWSClient(limitorder.WSConfig{
		OnEvent: func(e *chain.Event) {
			fmt.Printf("event %s order %s making %s remaining %s\n", e.Name, e.OrderHash, e.MakingAmount, e.RemainingAmount)
		},
		OnError: func(err error) { log.Printf("ws: %v", err) },
	})
	if err := ws.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect websocket: %v", err)
	}
	defer ws.Disconnect()
	if err := ws.SubscribeAll(); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	// Dev funding: the maker sells DAI, the taker pays USDC.
	api := client.API()
	amount, _ := limitorder.ParseUnits("1000", 18)
	if _, err := api.Fund(ctx, &server.FundRequest{Address: client.Maker(), Token: dai, Amount: server.NewAmount(amount)}); err != nil {
		log.Fatalf("Failed to fund maker: %v", err)
	}
	amount, _ = limitorder.ParseUnits("1000", 6)
	if _, err := api.Fund(ctx, &server.FundRequest{Address: taker, Token: usdc, Amount: server.NewAmount(amount)}); err != nil {
		log.Fatalf("Failed to fund taker: %v", err)
	}
	approve, err := chain.GetERC20ABI().Pack("approve", info.Engine, math.MaxBig256)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := api.Call(ctx, &server.CallRequest{From: taker, To: usdc, Data: approve}); err != nil {
		log.Fatalf("Taker approval failed: %v", err)
	}
	if _, err := client.EnableTrading(ctx, dai); err != nil {
		log.Fatalf("Failed to enable trading: %v", err)
	}

	order, err := client.PlaceOrder(ctx, &limitorder.PlaceOrderInput{
		MakerToken:         dai,
		TakerToken:         usdc,
		MakingAmount:       "100",
		Price:              "0.999",
		AllowMultipleFills: true,
		Expiration:         info.Timestamp + 3600,
	})
	if err != nil {
		log.Fatalf("Failed to place order: %v", err)
	}
	fmt.Printf("Order %s: %s DAI for %s USDC\n", order.Hash,
		limitorder.FormatUnits(order.Order.MakingAmount, 18), limitorder.FormatUnits(order.Order.TakingAmount, 6))

	making, _ := limitorder.ParseUnits("40", 18)
	fill, err := client.FillOrder(ctx, taker, order.SignedOrder, &limitorder.FillOptions{MakingAmount: making})
	if err != nil {
		log.Fatalf("Fill failed: %v", err)
	}
	fmt.Printf("Filled %s DAI for %s USDC, %s left\n", limitorder.FormatUnits(fill.MakingAmount, 18),
		limitorder.FormatUnits(fill.TakingAmount, 6), limitorder.FormatUnits(fill.Remaining, 18))

	if _, err := client.CancelOrder(ctx, order.Order); err != nil {
		log.Fatalf("Cancel failed: %v", err)
	}
	_, err = client.FillOrder(ctx, taker, order.SignedOrder, &limitorder.FillOptions{MakingAmount: making})
	if limitorder.IsKind(err, "invalidated order") {
		fmt.Println("Cancelled order no longer fills")
	}

	balance, err := client.Balance(ctx, taker, dai)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Taker DAI balance: %s\n", balance)

	// Give the feed a moment to deliver the last events.
	time.Sleep(time.Second)
}
