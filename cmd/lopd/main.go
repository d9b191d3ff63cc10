// lopd runs a limit order fill engine on a local ledger and serves it over
// HTTP and websocket.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/engine"
	"github.com/kaifufi/limit-order-go/ledger"
	"github.com/kaifufi/limit-order-go/server"
)

// Version is the application version. It may be set at build time with
// -ldflags "-X main.Version=...".
var Version = "0.1.0-pre"

// Contracts deployed at startup. Their code lives in the binary, so they are
// redeployed on every start while their storage is restored from the
// database.
var (
	wethAddr        = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr        = common.HexToAddress("0x10c0000000000000000000000000000000000001")
	daiAddr         = common.HexToAddress("0x10c0000000000000000000000000000000000002")
	collectibleAddr = common.HexToAddress("0x10c0000000000000000000000000000000000003")
	itemsAddr       = common.HexToAddress("0x10c0000000000000000000000000000000000004")
	rangeGetterAddr = common.HexToAddress("0x10c0000000000000000000000000000000000005")
	nftProxyAddr    = common.HexToAddress("0x10c0000000000000000000000000000000000006")
)

type deployment struct {
	weth   *ledger.WrappedNative
	tokens []*ledger.ERC20
}

func deploy(l *ledger.Ledger, engineAddr common.Address) *deployment {
	d := &deployment{
		weth: ledger.NewWrappedNative(wethAddr),
		tokens: []*ledger.ERC20{
			ledger.NewERC20(usdcAddr, "USD Coin", 6),
			ledger.NewERC20(daiAddr, "Dai Stablecoin", 18),
		},
	}
	l.Deploy(wethAddr, d.weth)
	for _, t := range d.tokens {
		l.Deploy(t.Address, t)
	}
	l.Deploy(collectibleAddr, &ledger.ERC721{Address: collectibleAddr, Name: "Collectible"})
	l.Deploy(itemsAddr, &ledger.ERC1155{Address: itemsAddr, Name: "Items"})
	l.Deploy(rangeGetterAddr, ledger.RangeAmountGetter{})
	l.Deploy(nftProxyAddr, &ledger.ERC721Proxy{Address: nftProxyAddr, Engine: engineAddr})
	return d
}

func mainCore(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("lopd version %s (Go version %s)", Version, runtime.Version())

	var db *ledger.BoltDB
	if !cfg.InMemory {
		if db, err = ledger.NewBoltDB(cfg.DBPath); err != nil {
			return fmt.Errorf("failed to open ledger database %s: %w", cfg.DBPath, err)
		}
		defer db.Close()
	} else {
		log.Warn("Ledger is in memory only. State is lost on shutdown.")
	}

	l, err := ledger.New(&ledger.Config{
		ChainID:   big.NewInt(cfg.ChainID),
		Timestamp: cfg.Genesis,
		DB:        db,
	})
	if err != nil {
		return err
	}
	d := deploy(l, cfg.Engine)

	eng, err := engine.New(ctx, l, &engine.Config{
		Address:       cfg.Engine,
		WrappedNative: d.weth.Address,
	})
	if err != nil {
		return err
	}
	l.Deploy(cfg.Engine, ledger.EngineAccount{Engine: eng})
	log.Infof("Engine %s on chain %d, block %d, time %d", eng.Address(), cfg.ChainID, l.BlockNumber(), l.Now())
	if cfg.DevMode {
		log.Warn("Dev mode is on. Anyone can move the clock and mint funds.")
	}

	srv, err := server.New(&server.Config{
		Addr:          cfg.Listen,
		Ledger:        l,
		Engine:        eng,
		WrappedNative: d.weth,
		Tokens:        d.tokens,
		DevMode:       cfg.DevMode,
		PingPeriod:    cfg.PingPeriod,
		FeedBuffer:    cfg.FeedBuffer,
	})
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("Bye!")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := mainCore(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
